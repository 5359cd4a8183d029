package terminal

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/proctree"
)

type exitRecord struct {
	code int
	tail string
}

type sink struct {
	mu     sync.Mutex
	output strings.Builder
	exits  chan exitRecord
}

func newSink() *sink { return &sink{exits: make(chan exitRecord, 4)} }

func (s *sink) onOutput(_ string, chunk []byte) {
	s.mu.Lock()
	s.output.Write(chunk)
	s.mu.Unlock()
}

func (s *sink) onExit(_ string, code int, tail string) {
	s.exits <- exitRecord{code: code, tail: tail}
}

func (s *sink) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String()
}

func (s *sink) waitExit(t *testing.T) exitRecord {
	t.Helper()
	select {
	case rec := <-s.exits:
		return rec
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for session exit")
		return exitRecord{}
	}
}

func newTestManager(t *testing.T, profiles config.ProfileStore) (*Manager, *sink) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("pty sessions need a unix host")
	}
	t.Setenv("SHELL", "/bin/sh")
	sk := newSink()
	m := NewManager(Options{
		Profiles: profiles,
		Grace:    500 * time.Millisecond,
		OnOutput: sk.onOutput,
		OnExit:   sk.onExit,
	})
	t.Cleanup(m.Close)
	return m, sk
}

func TestSpawnRelaysOutputAndExit(t *testing.T) {
	m, sk := newTestManager(t, nil)

	res := m.Spawn("alpha", "printf", []string{`hello from %s\n`, "pty"}, SpawnOptions{})
	if !res.Success {
		t.Fatalf("Spawn failed: %s", res.Error)
	}
	if res.PID <= 0 {
		t.Fatalf("PID = %d", res.PID)
	}

	rec := sk.waitExit(t)
	if rec.code != 0 {
		t.Fatalf("exit code = %d, want 0", rec.code)
	}
	if !strings.Contains(rec.tail, "hello from pty") {
		t.Fatalf("tail = %q", rec.tail)
	}
	if !strings.Contains(sk.text(), "hello from pty") {
		t.Fatalf("output = %q", sk.text())
	}
	if m.Has("alpha") {
		t.Fatal("session should be discarded after exit")
	}
	if m.Scrollback("alpha") != "" {
		t.Fatal("scrollback should be gone after exit")
	}
}

func TestSpawnReportsExitCode(t *testing.T) {
	m, sk := newTestManager(t, nil)
	if res := m.Spawn("alpha", "exit 7", nil, SpawnOptions{}); !res.Success {
		t.Fatalf("Spawn failed: %s", res.Error)
	}
	if rec := sk.waitExit(t); rec.code != 7 {
		t.Fatalf("exit code = %d, want 7", rec.code)
	}
}

func TestSecondSpawnIsRejected(t *testing.T) {
	m, sk := newTestManager(t, nil)

	first := m.Spawn("alpha", "sleep 30", nil, SpawnOptions{})
	if !first.Success {
		t.Fatalf("first Spawn failed: %s", first.Error)
	}
	second := m.Spawn("alpha", "sleep 30", nil, SpawnOptions{})
	if second.Success {
		t.Fatal("second Spawn should fail while the first is running")
	}
	if !strings.Contains(second.Error, "already running") {
		t.Fatalf("error = %q", second.Error)
	}

	other := m.Spawn("beta", "sleep 30", nil, SpawnOptions{})
	if !other.Success {
		t.Fatalf("other agent Spawn failed: %s", other.Error)
	}
	if got := len(m.List()); got != 2 {
		t.Fatalf("List = %d sessions, want 2", got)
	}

	m.Kill("alpha")
	sk.waitExit(t)
	if m.Has("alpha") {
		t.Fatal("alpha should be gone after Kill")
	}
	if !m.Has("beta") {
		t.Fatal("beta should still be running")
	}
}

func TestKillTerminatesDescendants(t *testing.T) {
	m, sk := newTestManager(t, nil)
	pidFile := filepath.Join(t.TempDir(), "child.pid")

	res := m.Spawn("alpha", "sleep 300 & echo $! > "+pidFile+"; wait", nil, SpawnOptions{})
	if !res.Success {
		t.Fatalf("Spawn failed: %s", res.Error)
	}

	var child int
	deadline := time.Now().Add(5 * time.Second)
	for child == 0 && time.Now().Before(deadline) {
		if data, err := os.ReadFile(pidFile); err == nil {
			child = atoiTrim(string(data))
		}
		if child == 0 {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if child == 0 {
		t.Fatal("timed out waiting for child pid")
	}

	m.Kill("alpha")
	sk.waitExit(t)
	deadline = time.Now().Add(3 * time.Second)
	for proctree.Alive(child) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if proctree.Alive(child) {
		t.Fatalf("grandchild %d survived Kill", child)
	}
}

func TestWriteResizeAndScrollback(t *testing.T) {
	m, sk := newTestManager(t, nil)

	if res := m.Spawn("alpha", "read line; echo got:$line", nil, SpawnOptions{Cols: 100, Rows: 30}); !res.Success {
		t.Fatalf("Spawn failed: %s", res.Error)
	}
	if err := m.Resize("alpha", 120, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	info := m.List()
	if len(info) != 1 || info[0].Cols != 120 || info[0].Rows != 40 {
		t.Fatalf("List = %+v", info)
	}
	if err := m.Write("alpha", []byte("ping\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(m.Scrollback("alpha"), "got:ping") && time.Now().Before(deadline) {
		if !m.Has("alpha") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec := sk.waitExit(t)
	if !strings.Contains(rec.tail, "got:ping") {
		t.Fatalf("tail = %q", rec.tail)
	}
}

func TestUnknownAgent(t *testing.T) {
	m, _ := newTestManager(t, nil)

	if err := m.Write("ghost", []byte("x")); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Write err = %v, want ErrNoSession", err)
	}
	if err := m.Resize("ghost", 80, 24); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Resize err = %v, want ErrNoSession", err)
	}
	m.Kill("ghost")
	if m.Scrollback("ghost") != "" || m.Has("ghost") {
		t.Fatal("unknown agent should have no state")
	}
}

func TestSpawnUsesProfileCwdAndEnv(t *testing.T) {
	dir := t.TempDir()
	profiles := config.StaticProfiles{"alpha": {ID: "alpha", Runtime: "generic", Command: "sh", Cwd: dir, Env: map[string]string{"CORRAL_TEST_MARK": "m1"}}}
	m, sk := newTestManager(t, profiles)
	t.Setenv("CORRAL_TEST_LEAK", "leak")

	res := m.Spawn("alpha", `echo "pwd=$(pwd) term=$TERM mark=$CORRAL_TEST_MARK leak=$CORRAL_TEST_LEAK"`, nil, SpawnOptions{})
	if !res.Success {
		t.Fatalf("Spawn failed: %s", res.Error)
	}
	rec := sk.waitExit(t)

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"pwd=" + resolved, "term=xterm-256color", "mark=m1", "leak= "} {
		if !strings.Contains(rec.tail+" ", want) {
			t.Fatalf("tail %q missing %q", rec.tail, want)
		}
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"":          "''",
		"plain":     "plain",
		"a b":       "'a b'",
		"it's":      `'it'\''s'`,
		"--flag=v1": "--flag=v1",
	}
	for in, want := range cases {
		if got := shellQuote(in); got != want {
			t.Fatalf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
	if got := commandLine("claude --resume", []string{"x y"}); got != "claude --resume 'x y'" {
		t.Fatalf("commandLine = %q", got)
	}
}

func atoiTrim(s string) int {
	n := 0
	for _, r := range strings.TrimSpace(s) {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
