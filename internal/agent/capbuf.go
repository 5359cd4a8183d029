package agent

import (
	"bytes"

	"github.com/agusx1211/corral/internal/stream"
)

// cappedBuffer keeps at most limit bytes and silently discards the rest so
// the pipe keeps draining.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int64
	dropped int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.keep(p)
	return len(p), nil
}

// keep stores what fits and returns the stored prefix of p.
func (b *cappedBuffer) keep(p []byte) []byte {
	room := b.limit - int64(b.buf.Len())
	if room <= 0 {
		b.dropped += int64(len(p))
		return nil
	}
	if int64(len(p)) > room {
		b.dropped += int64(len(p)) - room
		p = p[:room]
	}
	b.buf.Write(p)
	return p
}

func (b *cappedBuffer) truncated() bool { return b.dropped > 0 }

func (b *cappedBuffer) String() string { return b.buf.String() }

// strategyWriter captures stdout and feeds the kept bytes to the output
// strategy in arrival order.
type strategyWriter struct {
	buf      *cappedBuffer
	strategy stream.Strategy
}

func (w *strategyWriter) Write(p []byte) (int, error) {
	if kept := w.buf.keep(p); len(kept) > 0 {
		w.strategy.ProcessChunk(kept)
	}
	return len(p), nil
}
