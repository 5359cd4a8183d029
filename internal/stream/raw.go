package stream

import (
	"bytes"
	"strings"
	"time"
)

// DefaultProgressInterval bounds how often Raw reports progress.
const DefaultProgressInterval = 2 * time.Second

// Raw passes output through untouched and reports throttled progress
// summaries. The text itself is read from the captured stdout.
type Raw struct {
	sink     Sink
	interval time.Duration
	now      func() time.Time

	start    time.Time
	lastEmit time.Time
	bytes    int64
	lines    int
	tail     string
	partial  []byte
}

// NewRaw returns a raw pass-through strategy.
func NewRaw(sink Sink) *Raw {
	return newRaw(sink, DefaultProgressInterval, time.Now)
}

func newRaw(sink Sink, interval time.Duration, now func() time.Time) *Raw {
	t := now()
	return &Raw{sink: sink, interval: interval, now: now, start: t, lastEmit: t}
}

func (r *Raw) ProcessChunk(chunk []byte) {
	r.bytes += int64(len(chunk))
	r.lines += bytes.Count(chunk, []byte{'\n'})
	r.trackTail(chunk)

	now := r.now()
	if now.Sub(r.lastEmit) < r.interval {
		return
	}
	r.lastEmit = now
	r.sink.progress(r.snapshot(now))
}

func (r *Raw) trackTail(chunk []byte) {
	data := append(r.partial, chunk...)
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		for _, line := range strings.Split(string(data[:i]), "\n") {
			if l := strings.TrimSpace(line); l != "" {
				r.tail = clipTail(l)
			}
		}
		data = data[i+1:]
	}
	if len(data) > maxTailRunes*4 {
		data = data[len(data)-maxTailRunes*4:]
	}
	r.partial = append([]byte(nil), data...)
}

// Flush reports a final summary.
func (r *Raw) Flush() {
	if l := strings.TrimSpace(string(r.partial)); l != "" {
		r.tail = clipTail(l)
		r.lines++
	}
	r.partial = nil
	r.sink.progress(r.snapshot(r.now()))
}

func (r *Raw) State() State {
	return State{}
}

func (r *Raw) snapshot(now time.Time) Progress {
	return Progress{
		Bytes:   r.bytes,
		Lines:   r.lines,
		Elapsed: now.Sub(r.start),
		Tail:    r.tail,
	}
}
