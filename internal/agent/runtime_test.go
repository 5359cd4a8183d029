package agent

import (
	"reflect"
	"strings"
	"testing"

	"github.com/agusx1211/corral/internal/config"
)

func TestLookupBuiltins(t *testing.T) {
	for _, kind := range []string{"claude", "codex", "gemini", "generic", "generic-arg"} {
		rt, ok := Lookup(kind)
		if !ok {
			t.Fatalf("Lookup(%q) missing", kind)
		}
		if rt.Name() != kind {
			t.Errorf("Lookup(%q).Name() = %q", kind, rt.Name())
		}
	}
	if _, ok := Lookup("vim"); ok {
		t.Fatal("Lookup(vim) should fail")
	}
	if got := Kinds(); !reflect.DeepEqual(got, []string{"claude", "codex", "gemini", "generic", "generic-arg"}) {
		t.Fatalf("Kinds() = %v", got)
	}
}

func TestCodexArgs(t *testing.T) {
	p := &config.Profile{Args: []string{"--full-auto", "-c", "x=1"}, Model: "o4", FullAccess: true}
	got := codexRuntime{}.Args(p, "ignored", Options{ResumeSessionID: "th-9"})
	want := []string{
		"exec", "--skip-git-repo-check", "-c", "x=1", "--model", "o4",
		"--dangerously-bypass-approvals-and-sandbox", "--json", "resume", "th-9", "-",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Args = %v\nwant   %v", got, want)
	}
}

func TestGeminiArgs(t *testing.T) {
	p := &config.Profile{Args: []string{"-y"}, Model: "gemini-2.5-pro", FullAccess: true}
	got := geminiRuntime{}.Args(p, "hi", Options{})
	want := []string{"-y", "--output-format", "stream-json", "--model", "gemini-2.5-pro", "-p", ""}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Args = %v, want %v", got, want)
	}
}

func TestCodexEnvDefaultsRustLog(t *testing.T) {
	t.Setenv("RUST_LOG", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	env := codexRuntime{}.Env(&config.Profile{})
	if env["RUST_LOG"] != codexDefaultRustLog {
		t.Fatalf("RUST_LOG = %q", env["RUST_LOG"])
	}
	if env["OPENAI_API_KEY"] != "sk-test" {
		t.Fatalf("OPENAI_API_KEY = %q", env["OPENAI_API_KEY"])
	}
}

func TestBuildEnvOverlayOrder(t *testing.T) {
	t.Setenv("HOME", "/home/test")
	t.Setenv("UNLISTED_VAR", "x")
	env := BuildEnv(map[string]string{"A": "1", "HOME": "/runtime"}, map[string]string{"A": "2", "": "skip"})

	joined := strings.Join(env, "\n")
	if strings.Contains(joined, "UNLISTED_VAR") {
		t.Fatal("unlisted variable copied")
	}
	if !strings.Contains(joined, "A=2") || !strings.Contains(joined, "HOME=/runtime") {
		t.Fatalf("env = %v", env)
	}
	if strings.Contains(joined, "\n=skip") || strings.HasPrefix(joined, "=skip") {
		t.Fatal("empty key kept")
	}
}

func TestTailLines(t *testing.T) {
	in := strings.Repeat("line\n", 30) + "last\n"
	got := tailLines(in, 3)
	if got != "line\nline\nlast" {
		t.Fatalf("tailLines = %q", got)
	}
	if tailLines("  \n ", 3) != "" {
		t.Fatal("blank input should give empty tail")
	}
}
