package debug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestShouldEnableFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		enabled string
		path    string
		want    bool
	}{
		{name: "disabled by default", want: false},
		{name: "enabled explicit", enabled: "1", want: true},
		{name: "enabled via path", path: "/tmp/corral.log", want: true},
		{name: "explicit off wins", enabled: "off", path: "/tmp/corral.log", want: false},
		{name: "unknown toggle falls back to path", enabled: "maybe", path: "/tmp/corral.log", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvEnabled, tt.enabled)
			t.Setenv(EnvLogPath, tt.path)
			if got := ShouldEnableFromEnv(); got != tt.want {
				t.Fatalf("ShouldEnableFromEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitInheritedPath(t *testing.T) {
	defer Close()

	logPath := filepath.Join(t.TempDir(), "aggregate.log")
	if err := os.WriteFile(logPath, []byte("existing\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv(EnvLogPath, logPath)
	t.Setenv(EnvProcess, "serve:1")

	got, err := Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got != logPath {
		t.Fatalf("Init() = %q, want %q", got, logPath)
	}

	LogKV("test", "hello", "k", "v", "dangling")
	Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, "existing\n") {
		t.Fatalf("existing content overwritten: %q", s)
	}
	for _, want := range []string{"=== CORRAL PROCESS ATTACHED ===", "serve:1", "hello k=v dangling=<missing>", "=== DEBUG LOG CLOSED ==="} {
		if !strings.Contains(s, want) {
			t.Fatalf("log missing %q:\n%s", want, s)
		}
	}
}

func TestLogIsNoopWhenDisabled(t *testing.T) {
	Close()
	LogKV("test", "ignored", "k", 1)
	if Enabled() || Path() != "" {
		t.Fatal("logger should be disabled")
	}
}

func TestPropagatedEnv(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		Close()
		in := map[string]string{"FOO": "bar"}
		out := PropagatedEnv(in, "exec")
		if len(out) != 1 || out["FOO"] != "bar" {
			t.Fatalf("PropagatedEnv() = %v, want unchanged", out)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		defer Close()
		logPath := filepath.Join(t.TempDir(), "shared.log")
		t.Setenv(EnvLogPath, logPath)
		if _, err := Init(); err != nil {
			t.Fatalf("Init: %v", err)
		}
		out := PropagatedEnv(nil, "agent:claude")
		if out[EnvEnabled] != "1" || out[EnvLogPath] != logPath || out[EnvProcess] != "agent:claude" {
			t.Fatalf("PropagatedEnv() = %v", out)
		}
	})
}

func TestHomeOverride(t *testing.T) {
	t.Setenv(EnvHome, "/srv/corral")
	if got := Home(); got != "/srv/corral" {
		t.Fatalf("Home() = %q", got)
	}
}
