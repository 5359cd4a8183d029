// Package proctree terminates whole process trees and finds the processes
// listening on a TCP port.
//
// Agent CLIs fork helpers the orchestrator never sees directly, so signalling
// only the tracked pid leaves orphans holding pipes and ports. Every kill path
// in corral goes through Kill, which walks the descendants (procfs on linux,
// pgrep elsewhere), signals them deepest first along with the process group,
// and escalates to SIGKILL after a grace period.
package proctree

import (
	"errors"
	"syscall"
	"time"

	"github.com/agusx1211/corral/internal/debug"
)

// DefaultGrace is how long Kill waits after SIGTERM before SIGKILL.
const DefaultGrace = 3 * time.Second

const pollInterval = 50 * time.Millisecond

// Descendants returns the pids of every descendant of pid, deepest first.
// pid itself is not included.
func Descendants(pid int) []int {
	if pid <= 0 {
		return nil
	}
	children := childrenMap()
	var order []int
	var walk func(p int, depth int)
	seen := map[int]bool{pid: true}
	walk = func(p int, depth int) {
		if depth > 64 {
			return
		}
		for _, c := range children[p] {
			if seen[c] {
				continue
			}
			seen[c] = true
			walk(c, depth+1)
			order = append(order, c)
		}
	}
	walk(pid, 0)
	return order
}

// Signal sends sig to every descendant of pid (deepest first), to pid's
// process group when pid leads one, and finally to pid.
func Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return errors.New("proctree: invalid pid")
	}
	for _, d := range Descendants(pid) {
		_ = syscall.Kill(d, sig)
	}
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid == pid {
		_ = syscall.Kill(-pid, sig)
	}
	err := syscall.Kill(pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Kill terminates the tree rooted at pid: SIGTERM first, then SIGKILL for
// anything still alive after grace. The descendant set is captured before
// the first signal so re-parented orphans are still reached by the SIGKILL.
func Kill(pid int, grace time.Duration) error {
	if pid <= 0 {
		return errors.New("proctree: invalid pid")
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	tree := append(Descendants(pid), pid)
	debug.LogKV("proctree", "terminating tree", "pid", pid, "size", len(tree))

	if err := Signal(pid, syscall.SIGTERM); err != nil {
		debug.LogKV("proctree", "SIGTERM failed", "pid", pid, "error", err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !anyAlive(tree) {
			return nil
		}
		time.Sleep(pollInterval)
	}

	var survivors int
	for _, p := range tree {
		if Alive(p) {
			survivors++
			_ = syscall.Kill(p, syscall.SIGKILL)
		}
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	if survivors > 0 {
		debug.LogKV("proctree", "escalated to SIGKILL", "pid", pid, "survivors", survivors)
	}
	return nil
}

// Alive reports whether pid refers to a running (non-zombie) process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err != nil && !errors.Is(err, syscall.EPERM) {
		return false
	}
	return !isZombie(pid)
}

func anyAlive(pids []int) bool {
	for _, p := range pids {
		if Alive(p) {
			return true
		}
	}
	return false
}

// KillListeners terminates the tree of every process listening on port and
// returns the pids that were found.
func KillListeners(port int, grace time.Duration) ([]int, error) {
	pids, err := ListenerPIDs(port)
	if err != nil {
		return nil, err
	}
	for _, p := range pids {
		if err := Kill(p, grace); err != nil {
			debug.LogKV("proctree", "listener kill failed", "port", port, "pid", p, "error", err)
		}
	}
	return pids, nil
}
