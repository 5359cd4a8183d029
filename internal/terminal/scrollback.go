package terminal

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// ring keeps the last cap complete lines plus the line in progress.
type ring struct {
	lines   []string
	start   int
	size    int
	partial strings.Builder
	total   int // complete lines ever written
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{lines: make([]string, capacity)}
}

func (r *ring) Write(p []byte) {
	s := string(p)
	for {
		nl := strings.IndexByte(s, '\n')
		if nl < 0 {
			r.partial.WriteString(s)
			return
		}
		r.partial.WriteString(s[:nl])
		r.push(r.partial.String())
		r.partial.Reset()
		s = s[nl+1:]
	}
}

func (r *ring) push(line string) {
	r.total++
	if r.size < len(r.lines) {
		r.lines[(r.start+r.size)%len(r.lines)] = line
		r.size++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % len(r.lines)
}

// Len counts retained complete lines.
func (r *ring) Len() int { return r.size }

// Tail returns up to n of the most recent lines, the partial line included
// when non-empty.
func (r *ring) Tail(n int) []string {
	all := r.snapshot()
	if n >= 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

func (r *ring) String() string {
	var b strings.Builder
	for i := 0; i < r.size; i++ {
		b.WriteString(r.lines[(r.start+i)%len(r.lines)])
		b.WriteByte('\n')
	}
	b.WriteString(r.partial.String())
	return b.String()
}

func (r *ring) snapshot() []string {
	out := make([]string, 0, r.size+1)
	for i := 0; i < r.size; i++ {
		out = append(out, r.lines[(r.start+i)%len(r.lines)])
	}
	if r.partial.Len() > 0 {
		out = append(out, r.partial.String())
	}
	return out
}

// cursor estimates the 1-based cursor position after everything written so
// far, clamped to a window of the given height.
func (r *ring) cursor(rows int) (row, col int) {
	row = r.total + 1
	if rows > 0 && row > rows {
		row = rows
	}
	line := r.partial.String()
	if cr := strings.LastIndexByte(line, '\r'); cr >= 0 {
		line = line[cr+1:]
	}
	return row, ansi.StringWidth(line) + 1
}

// plainTail is the ANSI-stripped exit diagnostic.
func plainTail(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, strings.TrimRight(ansi.Strip(l), "\r"))
	}
	return strings.Join(out, "\n")
}
