package terminal

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func filterAll(f *cursorFilter, chunks ...string) (string, int) {
	var out bytes.Buffer
	total := 0
	for _, c := range chunks {
		b, offsets := f.Filter([]byte(c))
		out.Write(b)
		total += len(offsets)
	}
	return out.String(), total
}

func TestCursorFilterStripsWholeQueries(t *testing.T) {
	var f cursorFilter
	out, n := filterAll(&f, "a\x1b[6nb\x1b[?6nc")
	if out != "abc" || n != 2 {
		t.Fatalf("got %q, %d queries; want %q, 2", out, n, "abc")
	}
}

func TestCursorFilterReportsQueryOffsets(t *testing.T) {
	var f cursorFilter
	out, offsets := f.Filter([]byte("X\x1b[6nYZ\x1b[?6n"))
	if string(out) != "XYZ" {
		t.Fatalf("out = %q", out)
	}
	if len(offsets) != 2 || offsets[0] != 1 || offsets[1] != 3 {
		t.Fatalf("offsets = %v, want [1 3]", offsets)
	}
}

func TestCursorFilterHandlesEverySplit(t *testing.T) {
	for _, query := range []string{"\x1b[6n", "\x1b[?6n"} {
		input := "left" + query + "right"
		for cut := 1; cut < len(input); cut++ {
			var f cursorFilter
			out, n := filterAll(&f, input[:cut], input[cut:])
			if out != "leftright" || n != 1 {
				t.Fatalf("query %q cut at %d: got %q, %d queries", query, cut, out, n)
			}
			if len(f.Drain()) != 0 {
				t.Fatalf("query %q cut at %d: prefix left pending", query, cut)
			}
		}
	}
}

func TestCursorFilterPassesOtherEscapes(t *testing.T) {
	var f cursorFilter
	in := "\x1b[31mred\x1b[0m \x1b[5n \x1b[?25l"
	out, n := filterAll(&f, in)
	if out != in || n != 0 {
		t.Fatalf("got %q, %d; want input unchanged", out, n)
	}
}

func TestCursorFilterReleasesBrokenPrefix(t *testing.T) {
	var f cursorFilter
	out, n := filterAll(&f, "x\x1b[", "1mbold")
	if out != "x\x1b[1mbold" || n != 0 {
		t.Fatalf("got %q, %d", out, n)
	}

	var g cursorFilter
	out, _ = filterAll(&g, "tail\x1b[?")
	if out != "tail" {
		t.Fatalf("partial prefix should be held back, got %q", out)
	}
	if rest := string(g.Drain()); rest != "\x1b[?" {
		t.Fatalf("Drain = %q", rest)
	}
}

func TestIngestRepliesOncePerQuery(t *testing.T) {
	var got bytes.Buffer
	m := NewManager(Options{
		FlushInterval: time.Hour,
		OnOutput:      func(_ string, chunk []byte) { got.Write(chunk) },
	})
	reply := &bytes.Buffer{}
	s := &session{manager: m, agentID: "a", reply: reply, rows: 24, cols: 80, scroll: newRing(100)}

	s.ingest([]byte("line one\n> \x1b"))
	s.ingest([]byte("[6n"))
	s.flush()

	if strings.Contains(got.String(), "\x1b[6n") {
		t.Fatalf("query leaked into output: %q", got.String())
	}
	if got.String() != "line one\n> " {
		t.Fatalf("output = %q", got.String())
	}
	if reply.String() != "\x1b[2;3R" {
		t.Fatalf("reply = %q, want exactly one position report", reply.String())
	}
}

func TestIngestReportsPositionAtQuery(t *testing.T) {
	m := NewManager(Options{FlushInterval: time.Hour})
	reply := &bytes.Buffer{}
	s := &session{manager: m, agentID: "a", reply: reply, rows: 24, cols: 80, scroll: newRing(100)}

	s.ingest([]byte("X\x1b[6nY\x1b[6n"))
	s.flush()

	if reply.String() != "\x1b[1;2R\x1b[1;3R" {
		t.Fatalf("reply = %q, want positions at each query", reply.String())
	}
	if got := s.scroll.String(); got != "XY" {
		t.Fatalf("scrollback = %q", got)
	}
}
