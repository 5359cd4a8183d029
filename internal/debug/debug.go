// Package debug provides the structured diagnostic logger used across corral.
//
// When enabled via --debug (or inherited through the CORRAL_DEBUG_* variables
// that PropagatedEnv forwards to children), every significant event in the
// orchestrator is appended to a single log file under <corral home>/debug/.
// Each line carries a timestamp, elapsed time, pid, goroutine id, component
// tag and caller so an execution path can be reconstructed afterwards.
//
// When disabled (the default) all logging functions are no-ops.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/agusx1211/corral/internal/hexid"
)

var (
	logger   *Logger
	loggerMu sync.RWMutex
)

const (
	// EnvEnabled toggles logger initialization in child processes.
	EnvEnabled = "CORRAL_DEBUG_ENABLED"
	// EnvLogPath forces logs into an existing aggregate file.
	EnvLogPath = "CORRAL_DEBUG_LOG_PATH"
	// EnvProcess labels the current process in every emitted line.
	EnvProcess = "CORRAL_DEBUG_PROCESS"
	// EnvHome overrides the corral home directory (default ~/.corral).
	EnvHome = "CORRAL_HOME"
)

// Logger writes structured debug lines to a file.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	startedAt time.Time
	pid       int
	process   string
}

// Init opens the global logger and returns the log path. Calling Init twice
// returns the already-open path.
func Init() (string, error) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return logger.path, nil
	}

	path, inherited, err := resolveLogPath()
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("debug: open log %s: %w", path, err)
	}

	l := &Logger{
		file:      f,
		path:      path,
		startedAt: time.Now(),
		pid:       os.Getpid(),
		process:   processLabel(),
	}
	banner := "=== CORRAL DEBUG LOG ==="
	if inherited {
		banner = "=== CORRAL PROCESS ATTACHED ==="
	}
	fmt.Fprintf(f, "%s\nStarted: %s\nPID: %d\nProcess: %s\nGOMAXPROCS: %d\n===\n\n",
		banner, l.startedAt.Format(time.RFC3339Nano), l.pid, l.process, runtime.GOMAXPROCS(0))

	logger = l
	return path, nil
}

// Close flushes and closes the log. Safe to call when not initialized.
func Close() {
	loggerMu.Lock()
	l := logger
	logger = nil
	loggerMu.Unlock()
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "\n=== DEBUG LOG CLOSED === (pid=%d duration=%s)\n", l.pid, time.Since(l.startedAt))
	l.file.Close()
}

// Enabled reports whether the logger is active.
func Enabled() bool {
	return current() != nil
}

// Path returns the log file path, or "" when disabled.
func Path() string {
	if l := current(); l != nil {
		return l.path
	}
	return ""
}

// Home returns the corral home directory without creating it.
func Home() string {
	if dir := strings.TrimSpace(os.Getenv(EnvHome)); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".corral")
}

// ShouldEnableFromEnv reports whether inherited variables ask for logging.
func ShouldEnableFromEnv() bool {
	path := strings.TrimSpace(os.Getenv(EnvLogPath))
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvEnabled))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return path != ""
	}
}

// PropagatedEnv overlays the debug variables onto env so a child process logs
// into the same file. env is returned unchanged when logging is disabled.
func PropagatedEnv(env map[string]string, process string) map[string]string {
	logPath := Path()
	if logPath == "" {
		return env
	}
	if env == nil {
		env = make(map[string]string, 3)
	}
	env[EnvEnabled] = "1"
	env[EnvLogPath] = logPath
	if p := strings.TrimSpace(process); p != "" {
		env[EnvProcess] = p
	}
	return env
}

// Log writes a debug line.
func Log(component, msg string) {
	if l := current(); l != nil {
		l.write(component, msg)
	}
}

// Logf writes a formatted debug line.
func Logf(component, format string, args ...any) {
	if l := current(); l != nil {
		l.write(component, fmt.Sprintf(format, args...))
	}
}

// LogKV writes a debug line followed by key=value pairs.
//
//	debug.LogKV("sched", "task dispatched", "task_id", id, "agent", agentID)
func LogKV(component, msg string, kvs ...any) {
	l := current()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kvs); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kvs[i], kvs[i+1])
	}
	if len(kvs)%2 == 1 {
		fmt.Fprintf(&b, " %v=<missing>", kvs[len(kvs)-1])
	}
	l.write(component, b.String())
}

func current() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

func (l *Logger) write(component, msg string) {
	now := time.Now()

	caller := "??:0"
	if _, file, line, ok := runtime.Caller(2); ok {
		for _, marker := range []string{"/internal/", "/cmd/"} {
			if idx := strings.LastIndex(file, marker); idx >= 0 {
				file = file[idx+1:]
				break
			}
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	// TIMESTAMP +ELAPSED [PID] [PROCESS] [GID] [COMPONENT] CALLER | MESSAGE
	line := fmt.Sprintf("%s +%12s [P%-6d] [%-16s] [G%-6d] [%-10s] %-36s | %s\n",
		now.Format("15:04:05.000000"),
		now.Sub(l.startedAt).Truncate(time.Microsecond),
		l.pid,
		l.process,
		goroutineID(),
		component,
		caller,
		msg,
	)

	l.mu.Lock()
	l.file.WriteString(line)
	l.mu.Unlock()
}

func resolveLogPath() (path string, inherited bool, err error) {
	if p := strings.TrimSpace(os.Getenv(EnvLogPath)); p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return "", true, fmt.Errorf("debug: create dir for %s: %w", p, err)
		}
		return p, true, nil
	}

	dir := filepath.Join(Home(), "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, fmt.Errorf("debug: create dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%s.log", time.Now().Format("20060102T150405"), hexid.New())
	return filepath.Join(dir, name), false, nil
}

func processLabel() string {
	if p := strings.TrimSpace(os.Getenv(EnvProcess)); p != "" {
		return p
	}
	base := filepath.Base(os.Args[0])
	for _, arg := range os.Args[1:] {
		if arg = strings.TrimSpace(arg); arg != "" && !strings.HasPrefix(arg, "-") {
			return base + ":" + arg
		}
	}
	return base
}

// goroutineID parses the id out of runtime.Stack; only paid for in debug mode.
func goroutineID() int64 {
	var buf [64]byte
	s := string(buf[:runtime.Stack(buf[:], false)])
	s = strings.TrimPrefix(s, "goroutine ")
	var id int64
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
