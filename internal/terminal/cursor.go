package terminal

import "bytes"

// Device status report queries asking for the cursor position. Full-screen
// agent UIs block on the reply, so the manager answers them itself.
var cursorQueries = [][]byte{
	[]byte("\x1b[6n"),
	[]byte("\x1b[?6n"),
}

// cursorFilter removes cursor-position queries from pty output. A query
// split across reads is held back until the next chunk completes or breaks
// it.
type cursorFilter struct {
	pending []byte
}

// Filter returns chunk without queries and, for each query removed, its
// offset in the returned output.
func (f *cursorFilter) Filter(chunk []byte) ([]byte, []int) {
	data := chunk
	if len(f.pending) > 0 {
		data = append(f.pending, chunk...)
		f.pending = nil
	}

	out := make([]byte, 0, len(data))
	var queries []int
	for i := 0; i < len(data); {
		b := data[i]
		if b != 0x1b {
			next := bytes.IndexByte(data[i:], 0x1b)
			if next < 0 {
				out = append(out, data[i:]...)
				break
			}
			out = append(out, data[i:i+next]...)
			i += next
			continue
		}
		rest := data[i:]
		if n := matchQuery(rest); n > 0 {
			queries = append(queries, len(out))
			i += n
			continue
		}
		if partialQuery(rest) {
			f.pending = append([]byte(nil), rest...)
			break
		}
		out = append(out, b)
		i++
	}
	return out, queries
}

// Drain returns any held-back prefix. Used when the session ends.
func (f *cursorFilter) Drain() []byte {
	p := f.pending
	f.pending = nil
	return p
}

func matchQuery(b []byte) int {
	for _, q := range cursorQueries {
		if bytes.HasPrefix(b, q) {
			return len(q)
		}
	}
	return 0
}

func partialQuery(b []byte) bool {
	for _, q := range cursorQueries {
		if len(b) < len(q) && bytes.HasPrefix(q, b) {
			return true
		}
	}
	return false
}
