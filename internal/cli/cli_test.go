package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/store"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func isolatedHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("CORRAL_HOME", home)
	t.Setenv("CORRAL_AUTH_TOKEN", "")
	return filepath.Join(home, "config.json")
}

func TestProfileAddListRemove(t *testing.T) {
	cfgPath := isolatedHome(t)

	if _, err := runCLI(t, "", "--config", cfgPath, "profile", "add", "--id", "echo", "--runtime", "generic", "--command", "cat", "--max-concurrent", "3"); err != nil {
		t.Fatalf("profile add: %v", err)
	}
	cfg, err := config.LoadFrom(cfgPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	p, ok := cfg.Profile("echo")
	if !ok || p.Command != "cat" || p.MaxConcurrent != 3 {
		t.Fatalf("saved profile = %+v (found %v)", p, ok)
	}

	if _, err := runCLI(t, "", "--config", cfgPath, "profile", "add", "--id", "echo", "--runtime", "generic", "--command", "cat"); err == nil {
		t.Fatal("duplicate profile add succeeded")
	}
	if _, err := runCLI(t, "", "--config", cfgPath, "profile", "add", "--id", "bad", "--runtime", "cobol", "--command", "cat"); err == nil || !strings.Contains(err.Error(), "unknown runtime") {
		t.Fatalf("unknown runtime err = %v", err)
	}

	out, err := runCLI(t, "", "--config", cfgPath, "profile", "list", "--json=false")
	if err != nil {
		t.Fatalf("profile list: %v", err)
	}
	if !strings.Contains(out, "echo") || !strings.Contains(out, "generic") {
		t.Fatalf("list output:\n%s", out)
	}

	if _, err := runCLI(t, "", "--config", cfgPath, "profile", "remove", "echo"); err != nil {
		t.Fatalf("profile remove: %v", err)
	}
	if _, err := runCLI(t, "", "--config", cfgPath, "profile", "remove", "echo"); err == nil {
		t.Fatal("removing a missing profile succeeded")
	}
}

func TestExecRunsGenericRuntime(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs cat")
	}
	cfgPath := isolatedHome(t)
	cfg, _ := config.LoadFrom(cfgPath)
	if err := cfg.AddProfile(config.Profile{ID: "echo", Runtime: "generic", Command: "cat", Cwd: t.TempDir()}); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "", "--config", cfgPath, "exec", "--json=false", "echo", "hello", "corral")
	if err != nil {
		t.Fatalf("exec: %v (output %q)", err, out)
	}
	if strings.TrimSpace(out) != "hello corral" {
		t.Fatalf("exec output = %q, want %q", out, "hello corral")
	}

	out, err = runCLI(t, "from stdin\n", "--config", cfgPath, "exec", "echo")
	if err != nil {
		t.Fatalf("exec from stdin: %v", err)
	}
	if strings.TrimSpace(out) != "from stdin" {
		t.Fatalf("stdin exec output = %q", out)
	}

	if _, err := runCLI(t, "", "--config", cfgPath, "exec", "nobody", "hi"); err == nil {
		t.Fatal("exec with unknown agent succeeded")
	}
}

func TestTaskListReadsStoreWithoutServer(t *testing.T) {
	cfgPath := isolatedHome(t)
	cfg, _ := config.LoadFrom(cfgPath)
	s, err := store.New(cfg.DataDir())
	if err != nil {
		t.Fatal(err)
	}
	task, err := s.Create(&store.Task{Title: "offline task", Tags: []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "", "--config", cfgPath, "task", "list", "--server=", "--json=false", "--tag=", "--agent=", "--limit=0")
	if err != nil {
		t.Fatalf("task list: %v", err)
	}
	if !strings.Contains(out, task.ID) || !strings.Contains(out, "offline task") {
		t.Fatalf("list output:\n%s", out)
	}

	out, err = runCLI(t, "", "--config", cfgPath, "task", "show", "--server=", "--json=false", task.ID)
	if err != nil {
		t.Fatalf("task show: %v", err)
	}
	if !strings.Contains(out, "[created]") {
		t.Fatalf("show output:\n%s", out)
	}

	if _, err := runCLI(t, "", "--config", cfgPath, "task", "cancel", "--server=", task.ID); err == nil {
		t.Fatal("cancel without a server succeeded")
	}
}

func TestTaskCreateTalksToServer(t *testing.T) {
	isolatedHome(t)
	var got map[string]any
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/tasks":
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(store.Task{ID: "t-1", Title: "ship it", Status: store.StatusAssigned, AssignedTo: "alpha"})
		case r.URL.Path == "/api/tasks/t-1/cancel":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "task already finished"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	out, err := runCLI(t, "", "task", "create", "--server", ts.URL, "--token", "s3cret", "--agent", "alpha", "--priority", "5", "--tag", "ci", "--json=false", "ship", "it")
	if err != nil {
		t.Fatalf("task create: %v", err)
	}
	if !strings.Contains(out, "t-1") {
		t.Fatalf("create output = %q", out)
	}
	if auth != "Bearer s3cret" {
		t.Fatalf("authorization = %q", auth)
	}
	if got["title"] != "ship it" || got["assigned_to"] != "alpha" || got["priority"] != float64(5) {
		t.Fatalf("request body = %v", got)
	}

	_, err = runCLI(t, "", "task", "cancel", "--server", ts.URL, "t-1")
	if err == nil || !strings.Contains(err.Error(), "task already finished") {
		t.Fatalf("cancel err = %v", err)
	}
}
