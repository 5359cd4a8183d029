package stream

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/agusx1211/corral/internal/debug"
)

const maxLineSize = 1024 * 1024 // 1 MB

// Decoder maps one NDJSON line onto the common event model. ok is false for
// lines that are valid but carry nothing of interest.
type Decoder func(line []byte) (ev Event, ok bool, err error)

// DecodeClaude decodes Claude stream-json lines, which already use the
// common model.
func DecodeClaude(line []byte) (Event, bool, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, false, err
	}
	if ev.Type == "" {
		return Event{}, false, nil
	}
	return ev, true, nil
}

// NDJSON is the line-buffered structured event strategy.
type NDJSON struct {
	name   string
	decode Decoder
	sink   Sink

	buf        []byte
	overflowed bool

	state    State
	messages []string
	current  strings.Builder
	result   string
	start    time.Time
}

// NewNDJSON returns a strategy decoding each line with decode. name tags log
// lines.
func NewNDJSON(name string, decode Decoder, sink Sink) *NDJSON {
	if decode == nil {
		decode = DecodeClaude
	}
	return &NDJSON{name: name, decode: decode, sink: sink, start: time.Now()}
}

// ProcessChunk buffers chunk and handles every complete line in it. A line
// longer than 1 MB is dropped up to its terminating newline.
func (s *NDJSON) ProcessChunk(chunk []byte) {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			s.appendPartial(chunk)
			return
		}
		s.appendPartial(chunk[:i])
		if !s.overflowed {
			s.handleLine(s.buf)
		}
		s.buf = s.buf[:0]
		s.overflowed = false
		chunk = chunk[i+1:]
	}
}

func (s *NDJSON) appendPartial(b []byte) {
	if s.overflowed {
		return
	}
	if len(s.buf)+len(b) > maxLineSize {
		debug.LogKV("stream", "dropping oversized line", "parser", s.name, "limit", maxLineSize)
		s.state.Malformed++
		s.overflowed = true
		s.buf = s.buf[:0]
		return
	}
	s.buf = append(s.buf, b...)
}

// Flush handles a trailing line without a newline.
func (s *NDJSON) Flush() {
	if len(s.buf) > 0 && !s.overflowed {
		s.handleLine(s.buf)
	}
	s.buf = nil
	s.overflowed = false
	s.closeMessage()
	s.sink.progress(Progress{Events: s.state.Events, Elapsed: time.Since(s.start)})
}

// State returns what has been accumulated so far.
func (s *NDJSON) State() State {
	st := s.state
	st.Text = s.finalText()
	return st
}

func (s *NDJSON) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	ev, ok, err := s.decode(line)
	if err != nil {
		s.state.Malformed++
		debug.LogKV("stream", "malformed event line", "parser", s.name, "error", err, "bytes", len(line))
		return
	}
	if !ok {
		return
	}
	s.state.Events++
	s.apply(ev)
	s.sink.event(ev)
}

func (s *NDJSON) apply(ev Event) {
	switch ev.Type {
	case "system":
		if ev.Subtype == "init" {
			if ev.SessionID != "" {
				s.state.SessionID = ev.SessionID
			}
			if ev.Model != "" {
				s.state.Model = ev.Model
			}
		}
	case "assistant":
		s.closeMessage()
		if text := ev.Message.Text(); text != "" {
			s.messages = append(s.messages, text)
		}
	case "user":
		s.closeMessage()
	case "content_block_delta":
		if ev.Delta != nil && ev.Delta.Type == "text_delta" {
			s.current.WriteString(ev.Delta.Text)
		}
	case "result":
		s.closeMessage()
		if ev.SessionID != "" {
			s.state.SessionID = ev.SessionID
		}
		if ev.Usage != nil || ev.TotalCostUSD > 0 {
			if s.state.Usage == nil {
				s.state.Usage = &Usage{}
			}
			s.state.Usage.Add(ev.Usage)
			s.state.Usage.CostUSD += ev.TotalCostUSD
		}
		if ev.IsError {
			s.state.IsError = true
			if ev.ResultText != "" {
				s.state.ErrorText = ev.ResultText
			}
		} else if ev.ResultText != "" {
			s.result = ev.ResultText
		}
	case "error":
		if ev.ResultText != "" {
			s.state.ErrorText = ev.ResultText
		}
	}
}

func (s *NDJSON) closeMessage() {
	if s.current.Len() == 0 {
		return
	}
	s.messages = append(s.messages, s.current.String())
	s.current.Reset()
}

// finalText prefers the result event's text and falls back to the last
// assistant message.
func (s *NDJSON) finalText() string {
	if s.result != "" {
		return s.result
	}
	if s.current.Len() > 0 {
		return s.current.String()
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if strings.TrimSpace(s.messages[i]) != "" {
			return s.messages[i]
		}
	}
	return ""
}
