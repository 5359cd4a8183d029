package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

func writeServeRuntimeFiles(pidPath, statePath string, state serveRuntimeState) error {
	if err := writePIDFile(pidPath, state.PID); err != nil {
		return err
	}
	if err := writeServeState(statePath, state); err != nil {
		_ = os.Remove(pidPath)
		return err
	}
	return nil
}

func removeServeRuntimeFiles(pidPath, statePath string) error {
	var errs []error
	for _, p := range []string{pidPath, statePath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// loadServeState reports the running server, if any. Files left by a dead
// process are removed.
func loadServeState(pidPath, statePath string, pidAlive func(int) bool) (serveRuntimeState, bool, error) {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return serveRuntimeState{}, false, nil
		}
		return serveRuntimeState{}, false, err
	}
	if !pidAlive(pid) {
		_ = removeServeRuntimeFiles(pidPath, statePath)
		return serveRuntimeState{}, false, nil
	}

	data, err := os.ReadFile(statePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return serveRuntimeState{PID: pid}, true, nil
		}
		return serveRuntimeState{}, false, err
	}
	var state serveRuntimeState
	if err := json.Unmarshal(data, &state); err != nil {
		return serveRuntimeState{}, false, fmt.Errorf("parsing %s: %w", statePath, err)
	}
	state.PID = pid
	return state, true, nil
}

// stateURL returns the recorded URL, rebuilding it from host and port for
// older state files.
func stateURL(state serveRuntimeState) string {
	if url := strings.TrimSpace(state.URL); url != "" {
		return strings.TrimRight(url, "/")
	}
	if state.Port <= 0 {
		return ""
	}
	scheme := strings.TrimSpace(state.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.TrimSpace(state.Host)
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(state.Port)))
}

func writePIDFile(path string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", path)
	}
	return pid, nil
}

// writeServeState is 0600 since the state can hold the auth token.
func writeServeState(path string, state serveRuntimeState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func daemonChildArgs(args []string) []string {
	out := make([]string, 0, len(args))
	skipNext := false
	for i, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		if arg == "--daemon" {
			if i+1 < len(args) {
				switch strings.ToLower(strings.TrimSpace(args[i+1])) {
				case "true", "false", "1", "0":
					skipNext = true
				}
			}
			continue
		}
		if strings.HasPrefix(arg, "--daemon=") {
			continue
		}
		out = append(out, arg)
	}
	return out
}

func hasAuthTokenArg(args []string) bool {
	for _, arg := range args {
		if arg == "--auth-token" || strings.HasPrefix(arg, "--auth-token=") {
			return true
		}
	}
	return false
}
