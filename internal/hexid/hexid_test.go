package hexid

import (
	"regexp"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	id := New()
	if !regexp.MustCompile(`^[0-9a-f]{8}$`).MatchString(id) {
		t.Fatalf("expected 8 lowercase hex chars, got %q", id)
	}
}

func TestNewN(t *testing.T) {
	if got := len(NewN(16)); got != 32 {
		t.Fatalf("len(NewN(16)) = %d, want 32", got)
	}
	if got := len(NewN(0)); got != 8 {
		t.Fatalf("len(NewN(0)) = %d, want 8", got)
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("sess")
	if !strings.HasPrefix(id, "sess-") || len(id) != len("sess-")+8 {
		t.Fatalf("Prefixed() = %q", id)
	}
}

func TestNewUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate ID after %d iterations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}
