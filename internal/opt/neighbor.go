package opt

import (
	"math/rand"

	"github.com/cwbudde/keyanneal/internal/layout"
)

// Tweak swaps the positions of two keys picked uniformly at random, with
// replacement, and returns the result as a new layout. Picking the same key
// twice yields an unchanged copy.
func Tweak(l *layout.Layout, rng *rand.Rand) *layout.Layout {
	n := l.Len()
	i := rng.Intn(n)
	j := rng.Intn(n)
	return l.Swap(i, j)
}
