package opt

import (
	"context"

	"github.com/cwbudde/keyanneal/internal/fit"
	"github.com/cwbudde/keyanneal/internal/layout"
)

// Problem is one layout search: the starting permutation and the read-only
// inputs of the cost function
type Problem struct {
	Start   *layout.Layout
	Text    string
	Fingers layout.FingerAssignment
	Weights fit.Weights
}

// Optimizer defines a layout search strategy
type Optimizer interface {
	// Run searches for a low-cost permutation of p.Start.
	// report receives progress snapshots and may be nil; strategies that run
	// restarts in parallel call it from several goroutines.
	// Run returns ctx.Err() when ctx is cancelled before completion.
	Run(ctx context.Context, p Problem, report ProgressFunc) (*Result, error)
}

// ProgressKind tells why a snapshot was emitted
type ProgressKind string

const (
	// KindImprovement is emitted whenever a restart finds a new best score
	KindImprovement ProgressKind = "improvement"
	// KindCooling is emitted at every cooling boundary
	KindCooling ProgressKind = "cooling"
	// KindRestartDone is emitted when a restart finishes
	KindRestartDone ProgressKind = "restart"
)

// Progress is a snapshot of one restart
type Progress struct {
	Kind    ProgressKind `json:"kind"`
	Restart int          `json:"restart"`
	// Iteration is the loop index within the restart
	Iteration int `json:"iteration"`
	// IterationsCompleted is the run-level counter, advanced by 1000 at
	// every cooling boundary of every restart
	IterationsCompleted int            `json:"iterationsCompleted"`
	Layout              *layout.Layout `json:"layout"`
	Score               float64        `json:"score"`
	Temperature         float64        `json:"temperature"`
	AcceptanceRate      float64        `json:"acceptanceRate"`
}

// ProgressFunc receives progress snapshots
type ProgressFunc func(Progress)
