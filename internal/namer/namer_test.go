package namer

import "testing"

func TestNextUnique(t *testing.T) {
	n := NewSeeded(42)
	seen := make(map[string]bool)
	// More than adjectives*nouns forces the numeric fallback.
	total := len(adjectives)*len(nouns) + 50
	for i := 0; i < total; i++ {
		name := n.Next()
		if seen[name] {
			t.Fatalf("duplicate name %q after %d draws", name, i)
		}
		seen[name] = true
	}
}

func TestSeededDeterministic(t *testing.T) {
	a, b := NewSeeded(7), NewSeeded(7)
	for i := 0; i < 10; i++ {
		if x, y := a.Next(), b.Next(); x != y {
			t.Fatalf("draw %d differs: %q vs %q", i, x, y)
		}
	}
}

func TestReserve(t *testing.T) {
	n := NewSeeded(1)
	first := NewSeeded(1).Next()
	n.Reserve(first)
	if got := n.Next(); got == first {
		t.Errorf("reserved name %q was handed out", first)
	}
}
