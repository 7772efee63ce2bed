package fit

import "math"

// ConvergenceConfig controls stall detection at cooling boundaries
type ConvergenceConfig struct {
	// Enabled turns stall detection on
	Enabled bool `json:"enabled" toml:"enabled"`

	// Patience is the number of consecutive cooling boundaries without a
	// significant improvement after which a restart stops early
	Patience int `json:"patience" toml:"patience"`

	// Threshold is the minimum relative improvement that counts as progress.
	// Relative improvement = (lastSignificant - score) / lastSignificant
	Threshold float64 `json:"threshold" toml:"threshold"`
}

// DefaultConvergenceConfig returns stall detection settings that are off
// unless enabled explicitly
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   false,
		Patience:  20,
		Threshold: 0.001,
	}
}

// ConvergenceTracker watches the best score of one restart and reports when
// it has stopped improving
type ConvergenceTracker struct {
	config          ConvergenceConfig
	best            float64
	lastSignificant float64
	stale           int
}

// NewConvergenceTracker creates a tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		best:            math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records the best score at a cooling boundary and returns true when
// the restart should stop
func (c *ConvergenceTracker) Update(score float64) bool {
	if !c.config.Enabled {
		return false
	}

	if score < c.best {
		c.best = score
	}

	if math.IsInf(c.lastSignificant, 1) {
		c.lastSignificant = score
		return false
	}

	// A zero score cannot improve further
	if c.lastSignificant == 0 {
		c.stale++
	} else {
		improvement := (c.lastSignificant - score) / math.Abs(c.lastSignificant)
		if improvement >= c.config.Threshold {
			c.lastSignificant = score
			c.stale = 0
			return false
		}
		c.stale++
	}

	return c.stale >= c.config.Patience
}

// Best returns the best score seen so far
func (c *ConvergenceTracker) Best() float64 {
	return c.best
}

// Stale returns the number of boundaries since the last significant improvement
func (c *ConvergenceTracker) Stale() int {
	return c.stale
}
