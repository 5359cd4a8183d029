package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/agusx1211/corral/internal/stream"
)

// ErrorKind classifies an unsuccessful execution.
type ErrorKind string

const (
	KindNone      ErrorKind = ""
	KindSpawn     ErrorKind = "spawn"     // command not found, permission denied
	KindProcess   ErrorKind = "process"   // non-zero exit or reported failure
	KindTimeout   ErrorKind = "timeout"   // context deadline exceeded
	KindCancelled ErrorKind = "cancelled" // context cancelled
)

// Result is the outcome of one execution.
type Result struct {
	Success   bool          `json:"success"`
	Text      string        `json:"text,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Usage     *stream.Usage `json:"usage,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	Truncated bool          `json:"truncated,omitempty"`
}

const stderrTailLines = 10

// structuredResult is the ParseResult shared by the NDJSON runtimes.
func structuredResult(out Output) Result {
	st := out.State
	res := Result{
		Success:   out.ExitCode == 0 && !st.IsError,
		Text:      st.Text,
		Usage:     st.Usage,
		SessionID: st.SessionID,
	}
	if res.Success {
		return res
	}
	res.ErrorKind = KindProcess
	res.Error = bestError(st.ErrorText, out.Stderr, out.ExitCode)
	if res.Error == "" {
		res.Error = "agent reported an error"
	}
	return res
}

// bestError picks the most useful failure message: structured output first,
// then the stderr tail, then the exit code.
func bestError(structured, stderr string, exitCode int) string {
	if s := strings.TrimSpace(structured); s != "" {
		return s
	}
	if tail := tailLines(stderr, stderrTailLines); tail != "" {
		return tail
	}
	if exitCode != 0 {
		return fmt.Sprintf("exit code %d", exitCode)
	}
	return ""
}

func tailLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
