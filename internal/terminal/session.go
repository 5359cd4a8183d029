package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/agusx1211/corral/internal/debug"
)

type session struct {
	manager *Manager
	agentID string
	cmd     *exec.Cmd
	ptmx    *os.File
	reply   io.Writer // receives cursor position replies

	command   string
	cwd       string
	startedAt time.Time

	mu      sync.Mutex
	cols    int
	rows    int
	scroll  *ring
	filter  cursorFilter
	pending []byte
	timer   *time.Timer

	// flushMu keeps OnOutput deliveries in order between the read loop
	// and the flush timer.
	flushMu sync.Mutex
}

func (s *session) readLoop() {
	buf := make([]byte, readBufferLen)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.ingest(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				debug.LogKV("terminal", "pty read ended", "agent", s.agentID, "error", err)
			}
			return
		}
	}
}

// waitLoop reaps the shell, drains the pty and reports the exit.
func (s *session) waitLoop(readerDone <-chan struct{}) {
	code := exitCode(s.cmd.Wait())

	// A background child may keep the pty open after the shell is gone.
	select {
	case <-readerDone:
	case <-time.After(readerDrainTimeout):
	}
	_ = s.ptmx.Close()
	<-readerDone

	s.mu.Lock()
	if rest := s.filter.Drain(); len(rest) > 0 {
		s.scroll.Write(rest)
		s.pending = append(s.pending, rest...)
	}
	s.mu.Unlock()
	s.flush()

	s.mu.Lock()
	tail := plainTail(s.scroll.Tail(exitTailLines))
	s.mu.Unlock()

	s.manager.remove(s)
	debug.LogKV("terminal", "session exited", "agent", s.agentID, "exit_code", code, "uptime", time.Since(s.startedAt).Round(time.Millisecond))
	if fn := s.manager.opts.OnExit; fn != nil {
		fn(s.agentID, code, tail)
	}
}

// ingest filters one read, records it and answers any cursor queries.
func (s *session) ingest(chunk []byte) {
	s.mu.Lock()
	out, queries := s.filter.Filter(chunk)
	flushNow := false
	// Replies report the cursor as of each query's offset.
	var replies []byte
	written := 0
	for _, off := range queries {
		s.scroll.Write(out[written:off])
		written = off
		row, col := s.scroll.cursor(s.rows)
		replies = fmt.Appendf(replies, "\x1b[%d;%dR", row, col)
	}
	s.scroll.Write(out[written:])
	if len(out) > 0 {
		s.pending = append(s.pending, out...)
		if len(s.pending) >= s.manager.opts.FlushBytes {
			flushNow = true
		} else if s.timer == nil {
			s.timer = time.AfterFunc(s.manager.opts.FlushInterval, s.flush)
		}
	}
	s.mu.Unlock()

	if len(replies) > 0 {
		if _, err := s.reply.Write(replies); err != nil {
			debug.LogKV("terminal", "cursor reply failed", "agent", s.agentID, "error", err)
		}
	}
	if flushNow {
		s.flush()
	}
}

func (s *session) flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	data := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if len(data) > 0 {
		if fn := s.manager.opts.OnOutput; fn != nil {
			fn(s.agentID, data)
		}
	}
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		AgentID:   s.agentID,
		PID:       s.cmd.Process.Pid,
		Command:   s.command,
		Cwd:       s.cwd,
		Cols:      s.cols,
		Rows:      s.rows,
		StartedAt: s.startedAt,
		Lines:     s.scroll.Len(),
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
