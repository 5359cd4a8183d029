package terminal

import (
	"fmt"
	"strings"
	"testing"
)

func TestRingDropsOldestLines(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.Write([]byte(fmt.Sprintf("line %d\n", i)))
	}
	r.Write([]byte("partial"))

	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	want := "line 3\nline 4\nline 5\npartial"
	if got := r.String(); got != want {
		t.Fatalf("String = %q, want %q", got, want)
	}
	if got := strings.Join(r.Tail(2), "|"); got != "line 5|partial" {
		t.Fatalf("Tail(2) = %q", got)
	}
}

func TestRingJoinsLinesAcrossWrites(t *testing.T) {
	r := newRing(10)
	r.Write([]byte("hel"))
	r.Write([]byte("lo\nwor"))
	r.Write([]byte("ld\n"))
	if got := strings.Join(r.Tail(-1), "|"); got != "hello|world" {
		t.Fatalf("lines = %q", got)
	}
}

func TestCursorTracksColumnAndClampsRow(t *testing.T) {
	r := newRing(10)
	r.Write([]byte("a\nb\nc\n\x1b[32mok\x1b[0m"))
	row, col := r.cursor(2)
	if row != 2 || col != 3 {
		t.Fatalf("cursor = %d;%d, want 2;3", row, col)
	}
	r.Write([]byte("\rabcd"))
	if _, col := r.cursor(24); col != 5 {
		t.Fatalf("col after CR = %d, want 5", col)
	}
}

func TestPlainTailStripsANSI(t *testing.T) {
	got := plainTail([]string{"\x1b[1;31merror\x1b[0m\r", "done"})
	if got != "error\ndone" {
		t.Fatalf("plainTail = %q", got)
	}
}
