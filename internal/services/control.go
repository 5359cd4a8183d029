package services

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/agusx1211/corral/internal/agent"
	"github.com/agusx1211/corral/internal/debug"
	"github.com/agusx1211/corral/internal/proctree"
)

// RestartService kills whatever still listens on the service's port and
// starts its recorded command again, detached, with output appended to its
// log file. The restart is recorded in the manifest and opens a new grace
// window.
func (r *Registry) RestartService(name string) error {
	r.mu.Lock()
	svc := r.findLocked(name)
	if svc == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	snap := *svc
	r.mu.Unlock()

	if strings.TrimSpace(snap.Command) == "" || strings.TrimSpace(snap.Cwd) == "" {
		return fmt.Errorf("%w: %s", ErrNoCommand, name)
	}

	if pids, err := proctree.KillListeners(snap.Port, r.opts.KillGrace); err != nil {
		debug.LogKV("services", "listener lookup failed before restart", "service", name, "port", snap.Port, "error", err)
	} else if len(pids) > 0 {
		debug.LogKV("services", "killed stale listeners", "service", name, "port", snap.Port, "pids", pids)
	}

	logPath := snap.LogFile
	if logPath == "" {
		logPath = filepath.Join(snap.Workspace, ManifestDir, "logs", name+".log")
	} else if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(snap.Cwd, logPath)
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log %s: %w", logPath, err)
	}
	defer logFile.Close()

	cmd := exec.Command("sh", "-c", snap.Command)
	cmd.Dir = snap.Cwd
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = agent.BuildEnv(map[string]string{"PORT": strconv.Itoa(snap.Port)})
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()

	startedAt := r.now().UTC()
	entry := Entry{
		Port:      snap.Port,
		Name:      snap.Name,
		Command:   snap.Command,
		Cwd:       snap.Cwd,
		LogFile:   snap.LogFile,
		StartedAt: startedAt,
	}
	if err := AppendManifest(ManifestPath(snap.Workspace), entry); err != nil {
		debug.LogKV("services", "manifest append failed", "service", name, "error", err)
	}

	r.mu.Lock()
	if cur := r.agents[snap.AgentID][snap.Name]; cur != nil {
		cur.StartedAt = startedAt
		cur.graceUntil = startedAt.Add(r.opts.GraceWindow)
		cur.Failures = 0
		cur.Alive = true
		snap = *cur
	}
	r.mu.Unlock()

	debug.LogKV("services", "service restarted", "agent", snap.AgentID, "service", name, "port", snap.Port, "pid", pid, "log", logPath)
	r.publish(&snap)
	return nil
}

// StopService terminates every process tree listening on port and marks the
// services on it dead.
func (r *Registry) StopService(port int) error {
	pids, err := proctree.KillListeners(port, r.opts.KillGrace)
	if err != nil {
		return fmt.Errorf("stopping port %d: %w", port, err)
	}

	r.mu.Lock()
	tracked := r.findPortLocked(port)
	var changed []TrackedService
	for _, svc := range tracked {
		svc.Alive = false
		svc.Failures = r.opts.FailureThreshold
		svc.graceUntil = r.now()
		changed = append(changed, *svc)
	}
	r.mu.Unlock()

	if len(tracked) == 0 && len(pids) == 0 {
		return fmt.Errorf("%w: nothing listening on port %d", ErrNotFound, port)
	}
	debug.LogKV("services", "service stopped", "port", port, "pids", pids, "tracked", len(tracked))
	for i := range changed {
		r.publish(&changed[i])
	}
	return nil
}
