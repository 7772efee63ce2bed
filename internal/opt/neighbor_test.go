package opt

import (
	"math/rand"
	"testing"

	"github.com/cwbudde/keyanneal/internal/layout"
)

func TestTweak_PreservesKeysAndPositions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := layout.QWERTY()
	wantPositions := l.Positions()

	for i := 0; i < 500; i++ {
		next := Tweak(l, rng)

		if next.Len() != l.Len() {
			t.Fatalf("Key count changed: %d -> %d", l.Len(), next.Len())
		}
		for _, r := range l.Keys() {
			if _, ok := next.Position(r); !ok {
				t.Fatalf("Key %q lost after tweak", string(r))
			}
		}
		got := next.Positions()
		for k := range wantPositions {
			if got[k] != wantPositions[k] {
				t.Fatalf("Occupied positions changed at %d: %v -> %v", k, wantPositions[k], got[k])
			}
		}
		l = next
	}
}

func TestTweak_DoesNotMutateInput(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	l := layout.QWERTY()
	before := l.Map()

	for i := 0; i < 50; i++ {
		Tweak(l, rng)
	}

	for key, p := range before {
		if got, _ := l.Position([]rune(key)[0]); got != p {
			t.Errorf("Input mutated: %s moved from %v to %v", key, p, got)
		}
	}
}

func TestTweak_TwoKeyLayout(t *testing.T) {
	l := layout.MustNew(map[string]layout.Position{
		"A": {Row: 0, Col: 0},
		"B": {Row: 0, Col: 1},
	})
	swapped := layout.MustNew(map[string]layout.Position{
		"A": {Row: 0, Col: 1},
		"B": {Row: 0, Col: 0},
	})

	rng := rand.New(rand.NewSource(3))
	sawSwap, sawSame := false, false
	for i := 0; i < 200; i++ {
		next := Tweak(l, rng)
		switch {
		case next.Equal(l):
			sawSame = true
		case next.Equal(swapped):
			sawSwap = true
		default:
			t.Fatalf("Unexpected neighbor: %v", next.Map())
		}
	}

	if !sawSwap || !sawSame {
		t.Errorf("Expected both outcomes over 200 draws (swap=%v, same=%v)", sawSwap, sawSame)
	}
}
