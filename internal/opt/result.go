package opt

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/keyanneal/internal/layout"
)

// RestartResult is the outcome of one restart
type RestartResult struct {
	Restart      int            `json:"restart"`
	Seed         int64          `json:"seed"`
	Layout       *layout.Layout `json:"layout"`
	Score        float64        `json:"score"`
	Evaluations  int            `json:"evaluations"`
	Improvements int            `json:"improvements"`
	Accepted     int            `json:"accepted"`
	Stalled      bool           `json:"stalled,omitempty"`
}

// Result is the outcome of a whole run.
//
// Layout is the search register of the winning restart when it finished.
// Because accepted-but-worse moves replace the register without touching the
// best score, Layout may score worse than Score.
type Result struct {
	Layout *layout.Layout `json:"bestLayout"`
	Score  float64        `json:"bestMetric"`
	// Iterations is the run-level counter advanced at cooling boundaries
	Iterations int `json:"iterationsCompleted"`
	// Evaluations counts the candidates actually scored
	Evaluations int             `json:"evaluations"`
	Restarts    []RestartResult `json:"restarts"`
	Stats       Stats           `json:"stats"`
}

// Stats summarizes the restart scores of a run
type Stats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes score statistics over restarts
func Summarize(restarts []RestartResult) Stats {
	if len(restarts) == 0 {
		return Stats{}
	}
	scores := make([]float64, len(restarts))
	for i, r := range restarts {
		scores[i] = r.Score
	}

	s := Stats{
		Mean: stat.Mean(scores, nil),
		Min:  math.Inf(1),
		Max:  math.Inf(-1),
	}
	if len(scores) > 1 {
		s.StdDev = stat.StdDev(scores, nil)
	}
	for _, v := range scores {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	return s
}

// bestTracker is the run-level best shared by parallel restarts.
// Ties go to the lower restart index so the winner does not depend on
// completion order.
type bestTracker struct {
	mu      sync.Mutex
	set     bool
	restart int
	layout  *layout.Layout
	score   float64
}

func (b *bestTracker) offer(r RestartResult) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.set && !(r.Score < b.score || (r.Score == b.score && r.Restart < b.restart)) {
		return false
	}
	b.set = true
	b.restart = r.Restart
	b.layout = r.Layout
	b.score = r.Score
	return true
}

func (b *bestTracker) get() (*layout.Layout, float64, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.layout, b.score, b.restart
}
