package fit

import (
	"fmt"
	"math"
)

// Weights scale the terms of the score
type Weights struct {
	Distance    float64 `json:"distance" toml:"distance"`
	HandBalance float64 `json:"handBalance" toml:"hand-balance"`
	SameFinger  float64 `json:"sameFinger" toml:"same-finger"`
}

// DefaultWeights weighs all three terms equally
func DefaultWeights() Weights {
	return Weights{Distance: 1, HandBalance: 1, SameFinger: 1}
}

// Validate checks all weights are finite and non-negative
func (w Weights) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"distance", w.Distance},
		{"handBalance", w.HandBalance},
		{"sameFinger", w.SameFinger},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("weight %s must be finite, got %v", f.name, f.value)
		}
		if f.value < 0 {
			return fmt.Errorf("weight %s must be non-negative, got %v", f.name, f.value)
		}
	}
	return nil
}

// Score combines metrics into a single cost (lower is better).
// No normalization is applied.
func Score(m Metrics, w Weights) float64 {
	return w.Distance*float64(m.DistanceTraveled) +
		w.HandBalance*float64(m.HandImbalance()) +
		w.SameFinger*float64(m.SameFingerStrokes)
}
