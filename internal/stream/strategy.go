package stream

import (
	"time"
)

// Sink receives incremental output from a Strategy. Nil callbacks are skipped.
type Sink struct {
	OnEvent    func(Event)
	OnProgress func(Progress)
}

func (s Sink) event(ev Event) {
	if s.OnEvent != nil {
		s.OnEvent(ev)
	}
}

func (s Sink) progress(p Progress) {
	if s.OnProgress != nil {
		s.OnProgress(p)
	}
}

// Progress is a periodic summary of output seen so far.
type Progress struct {
	Bytes   int64
	Lines   int
	Events  int
	Elapsed time.Duration
	// Tail is the last non-empty line, clipped.
	Tail string
}

// State is what a strategy learned from the output once it is flushed.
type State struct {
	// Text is the final response text. Empty for raw output.
	Text      string
	SessionID string
	Model     string
	Usage     *Usage
	// ErrorText is the last error message reported by structured output.
	ErrorText string
	IsError   bool
	Events    int
	// Malformed counts lines that were not valid events.
	Malformed int
}

// Strategy consumes stdout chunks in arrival order. Flush is called once
// after the process has closed its output. A Strategy is not safe for
// concurrent use.
type Strategy interface {
	ProcessChunk(chunk []byte)
	Flush()
	State() State
}

const maxTailRunes = 200

func clipTail(s string) string {
	r := []rune(s)
	if len(r) <= maxTailRunes {
		return s
	}
	return string(r[len(r)-maxTailRunes:])
}
