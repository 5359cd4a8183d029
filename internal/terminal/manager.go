// Package terminal runs one interactive pty session per agent. It relays
// output in small batches, keeps a bounded scrollback, answers cursor
// position queries on behalf of the client and tears the whole process tree
// down on kill.
package terminal

import (
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/agusx1211/corral/internal/agent"
	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/debug"
	"github.com/agusx1211/corral/internal/proctree"
)

var (
	ErrNoSession      = errors.New("no session for agent")
	ErrAlreadyRunning = errors.New("session already running")
)

const (
	DefaultRows          = 24
	DefaultCols          = 80
	DefaultFlushInterval = 16 * time.Millisecond
	DefaultFlushBytes    = 64 * 1024
	exitTailLines        = 30
	readBufferLen        = 4096
	readerDrainTimeout   = 2 * time.Second
)

// SpawnOptions tunes one session.
type SpawnOptions struct {
	Cwd  string            // defaults to the profile cwd
	Env  map[string]string // overlaid on the allow-listed environment
	Cols int
	Rows int
}

// SpawnResult reports the outcome of Spawn.
type SpawnResult struct {
	Success bool   `json:"success"`
	PID     int    `json:"pid,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SessionInfo describes a live session.
type SessionInfo struct {
	AgentID   string    `json:"agent_id"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Cwd       string    `json:"cwd"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	StartedAt time.Time `json:"started_at"`
	Lines     int       `json:"scrollback_lines"`
}

// Options wires a Manager. Sinks may be nil.
type Options struct {
	Profiles        config.ProfileStore
	ScrollbackLines int
	FlushInterval   time.Duration
	FlushBytes      int
	Grace           time.Duration

	OnOutput func(agentID string, chunk []byte)
	OnExit   func(agentID string, exitCode int, tail string)
}

type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*session
	starting map[string]bool
	wg       sync.WaitGroup
}

// NewManager returns a manager with defaults applied to opts.
func NewManager(opts Options) *Manager {
	if opts.ScrollbackLines <= 0 {
		opts.ScrollbackLines = config.DefaultScrollbackLines
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.FlushBytes <= 0 {
		opts.FlushBytes = DefaultFlushBytes
	}
	if opts.Grace <= 0 {
		opts.Grace = proctree.DefaultGrace
	}
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*session),
		starting: make(map[string]bool),
	}
}

// Spawn starts command with args in a pty for agentID. The command line runs
// through the user's shell with -c, so it is not sourced as a login shell.
// An empty command starts the shell itself.
func (m *Manager) Spawn(agentID, command string, args []string, opts SpawnOptions) SpawnResult {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return SpawnResult{Error: "agent id is required"}
	}

	if !m.reserve(agentID) {
		return SpawnResult{Error: fmt.Sprintf("%s: %s", ErrAlreadyRunning, agentID)}
	}
	defer m.release(agentID)

	shell := strings.TrimSpace(os.Getenv("SHELL"))
	if shell == "" {
		shell = "/bin/sh"
	}
	line := commandLine(command, args)
	var cmd *exec.Cmd
	if line == "" {
		cmd = exec.Command(shell)
	} else {
		cmd = exec.Command(shell, "-c", line)
	}
	cmd.Dir = m.workDir(agentID, opts.Cwd)

	overlay := map[string]string{"TERM": "xterm-256color"}
	if debug.Enabled() {
		overlay = debug.PropagatedEnv(overlay, "terminal:"+agentID)
	}
	cmd.Env = agent.BuildEnv(m.profileEnv(agentID), opts.Env, overlay)

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}

	// StartWithSize makes the shell a session leader with the pty as its
	// controlling terminal, so its pid is also its process group id.
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: clampToUint16(rows), Cols: clampToUint16(cols)})
	if err != nil {
		debug.LogKV("terminal", "spawn failed", "agent", agentID, "shell", shell, "error", err)
		return SpawnResult{Error: fmt.Sprintf("starting pty: %v", err)}
	}

	s := &session{
		manager:   m,
		agentID:   agentID,
		cmd:       cmd,
		ptmx:      ptmx,
		reply:     ptmx,
		command:   line,
		cwd:       cmd.Dir,
		cols:      cols,
		rows:      rows,
		startedAt: time.Now(),
		scroll:    newRing(m.opts.ScrollbackLines),
	}
	m.mu.Lock()
	m.sessions[agentID] = s
	m.mu.Unlock()
	debug.LogKV("terminal", "session started", "agent", agentID, "pid", cmd.Process.Pid, "cwd", cmd.Dir, "command", line)

	readerDone := make(chan struct{})
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		defer close(readerDone)
		s.readLoop()
	}()
	go func() {
		defer m.wg.Done()
		s.waitLoop(readerDone)
	}()

	return SpawnResult{Success: true, PID: cmd.Process.Pid}
}

// Write sends input to the agent's pty.
func (m *Manager) Write(agentID string, data []byte) error {
	s, err := m.lookup(agentID)
	if err != nil {
		return err
	}
	if _, err := s.ptmx.Write(data); err != nil {
		return fmt.Errorf("writing to %s: %w", agentID, err)
	}
	return nil
}

// Resize changes the pty window size.
func (m *Manager) Resize(agentID string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid size %dx%d", cols, rows)
	}
	s, err := m.lookup(agentID)
	if err != nil {
		return err
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: clampToUint16(rows), Cols: clampToUint16(cols)}); err != nil {
		return fmt.Errorf("resizing %s: %w", agentID, err)
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
	return nil
}

// Kill terminates the session's process tree. Unknown or finished agents
// are ignored.
func (m *Manager) Kill(agentID string) {
	m.mu.Lock()
	s, ok := m.sessions[agentID]
	m.mu.Unlock()
	if !ok {
		return
	}
	pid := s.cmd.Process.Pid
	debug.LogKV("terminal", "killing session", "agent", agentID, "pid", pid)
	if err := proctree.Kill(pid, m.opts.Grace); err != nil {
		debug.LogKV("terminal", "kill failed", "agent", agentID, "pid", pid, "error", err)
	}
}

// Scrollback returns the retained output of a live session, or "".
func (m *Manager) Scrollback(agentID string) string {
	s, err := m.lookup(agentID)
	if err != nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scroll.String()
}

// Has reports whether agentID has a live session.
func (m *Manager) Has(agentID string) bool {
	_, err := m.lookup(agentID)
	return err == nil
}

// List returns live sessions ordered by agent id.
func (m *Manager) List() []SessionInfo {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Close kills every session and waits for their exit handlers.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Kill(id)
		}(id)
	}
	wg.Wait()
	m.wg.Wait()
}

// reserve claims agentID for a spawn in progress. The pty is started
// outside m.mu.
func (m *Manager) reserve(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[agentID]; ok || m.starting[agentID] {
		return false
	}
	m.starting[agentID] = true
	return true
}

func (m *Manager) release(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.starting, agentID)
}

func (m *Manager) lookup(agentID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, agentID)
	}
	return s, nil
}

func (m *Manager) remove(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.agentID] == s {
		delete(m.sessions, s.agentID)
	}
}

func (m *Manager) profile(agentID string) *config.Profile {
	if m.opts.Profiles == nil {
		return nil
	}
	p, ok := m.opts.Profiles.Profile(agentID)
	if !ok {
		return nil
	}
	return p
}

func (m *Manager) workDir(agentID, requested string) string {
	if dir := strings.TrimSpace(requested); dir != "" {
		return dir
	}
	if p := m.profile(agentID); p != nil && strings.TrimSpace(p.Cwd) != "" {
		return p.Cwd
	}
	if cwd, err := os.Getwd(); err == nil && strings.TrimSpace(cwd) != "" {
		return cwd
	}
	return "."
}

func (m *Manager) profileEnv(agentID string) map[string]string {
	if p := m.profile(agentID); p != nil {
		return p.Env
	}
	return nil
}

// commandLine joins command and shell-quoted args. command itself is left
// as written so it may carry its own flags.
func commandLine(command string, args []string) string {
	command = strings.TrimSpace(command)
	if command == "" {
		return ""
	}
	parts := []string{command}
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,@+%", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func clampToUint16(value int) uint16 {
	if value < 1 {
		return 1
	}
	if value > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(value)
}
