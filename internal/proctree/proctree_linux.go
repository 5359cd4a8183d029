//go:build linux

package proctree

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/prometheus/procfs"
)

const tcpListen = 0x0A

func childrenMap() map[int][]int {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil
	}
	children := make(map[int][]int, len(procs))
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			continue
		}
		children[st.PPID] = append(children[st.PPID], p.PID)
	}
	return children
}

func isZombie(pid int) bool {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return false
	}
	st, err := p.Stat()
	if err != nil {
		return false
	}
	return st.State == "Z" || st.State == "X"
}

// ListenerPIDs returns the pids holding a listening TCP socket on port,
// matching /proc/net/tcp{,6} socket inodes against each process's fds.
// Without a readable procfs it falls back to lsof.
func ListenerPIDs(port int) ([]int, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("proctree: invalid port %d", port)
	}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		if _, lerr := exec.LookPath("lsof"); lerr == nil {
			return lsofListeners(port)
		}
		return nil, fmt.Errorf("proctree: open procfs: %w", err)
	}

	inodes := make(map[string]bool)
	if lines, err := fs.NetTCP(); err == nil {
		for _, l := range lines {
			if l.St == tcpListen && l.LocalPort == uint64(port) {
				inodes["socket:["+strconv.FormatUint(l.Inode, 10)+"]"] = true
			}
		}
	}
	if lines, err := fs.NetTCP6(); err == nil {
		for _, l := range lines {
			if l.St == tcpListen && l.LocalPort == uint64(port) {
				inodes["socket:["+strconv.FormatUint(l.Inode, 10)+"]"] = true
			}
		}
	}
	if len(inodes) == 0 {
		return nil, nil
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("proctree: list processes: %w", err)
	}
	self := os.Getpid()
	var pids []int
	for _, p := range procs {
		if p.PID == self {
			continue
		}
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			continue
		}
		for _, t := range targets {
			if inodes[t] {
				pids = append(pids, p.PID)
				break
			}
		}
	}
	return pids, nil
}
