package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"github.com/cwbudde/mayfly"

	"github.com/cwbudde/keyanneal/internal/fit"
	"github.com/cwbudde/keyanneal/internal/layout"
)

// MayflyAdapter searches layouts with the Mayfly algorithm using a random-key
// encoding: every key gets a real value in [0,1], and keys are assigned to
// the occupied positions in order of their values.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	restarts int
	seed     int64
}

// MinMayflyPopulation is the smallest population the mayfly library accepts
const MinMayflyPopulation = 20

// NewMayfly creates a Mayfly optimizer
func NewMayfly(maxIters, popSize, restarts int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		restarts: restarts,
		seed:     seed,
	}
}

// Validate checks the adapter settings
func (m *MayflyAdapter) Validate() error {
	if m.maxIters <= 0 {
		return &ParamError{Field: "iterations", Reason: fmt.Sprintf("must be positive, got %d", m.maxIters)}
	}
	if m.popSize < MinMayflyPopulation {
		return &ParamError{Field: "popSize", Reason: fmt.Sprintf("must be at least %d, got %d", MinMayflyPopulation, m.popSize)}
	}
	if m.restarts <= 0 {
		return &ParamError{Field: "numRestarts", Reason: fmt.Sprintf("must be positive, got %d", m.restarts)}
	}
	return nil
}

// Run executes one Mayfly optimization per restart and keeps the best.
// The library cannot be interrupted, so after cancellation the objective
// returns +Inf without evaluating until the current restart winds down.
func (m *MayflyAdapter) Run(ctx context.Context, p Problem, report ProgressFunc) (*Result, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if p.Start == nil || p.Start.Len() == 0 {
		return nil, fmt.Errorf("starting layout is required")
	}
	if report == nil {
		report = func(Progress) {}
	}

	ev := fit.NewEvaluator(p.Start, p.Text, p.Fingers)
	slots := p.Start.Positions()
	dim := p.Start.Len()

	var (
		best        bestTracker
		restarts    = make([]RestartResult, 0, m.restarts)
		evaluations int
	)

	for r := 0; r < m.restarts; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		seed := m.seed + int64(r)
		evals := 0
		objective := func(x []float64) float64 {
			if ctx.Err() != nil {
				return math.Inf(1)
			}
			evals++
			return fit.Score(ev.Evaluate(decodeRandomKeys(p.Start, slots, x)), p.Weights)
		}

		config := mayfly.NewDefaultConfig()
		config.ObjectiveFunc = objective
		config.ProblemSize = dim
		config.MaxIterations = m.maxIters
		config.NPop = m.popSize
		config.LowerBound = 0
		config.UpperBound = 1
		config.Rand = rand.New(rand.NewSource(seed))

		result, err := mayfly.Optimize(config)
		if err != nil {
			return nil, fmt.Errorf("mayfly restart %d: %w", r, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Rescore the decoded layout so Score always describes Layout
		bestLayout := decodeRandomKeys(p.Start, slots, result.GlobalBest.Position)
		res := RestartResult{
			Restart:     r,
			Seed:        seed,
			Layout:      bestLayout,
			Score:       fit.Score(ev.Evaluate(bestLayout), p.Weights),
			Evaluations: evals,
		}
		restarts = append(restarts, res)
		evaluations += evals
		improved := best.offer(res)

		slog.Info("Mayfly restart finished",
			"restart", r,
			"score", res.Score,
			"evaluations", evals,
			"new_run_best", improved,
		)
		report(Progress{
			Kind:                KindRestartDone,
			Restart:             r,
			Iteration:           evals,
			IterationsCompleted: evaluations,
			Layout:              res.Layout,
			Score:               res.Score,
		})
	}

	bestLayout, bestScore, _ := best.get()
	return &Result{
		Layout:      bestLayout,
		Score:       bestScore,
		Iterations:  evaluations,
		Evaluations: evaluations,
		Restarts:    restarts,
		Stats:       Summarize(restarts),
	}, nil
}

// decodeRandomKeys assigns the k-th smallest key value to the k-th slot.
// Ties keep slot order, so every vector decodes to a valid permutation.
func decodeRandomKeys(start *layout.Layout, slots []layout.Position, x []float64) *layout.Layout {
	order := make([]int, start.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

	pos := make([]layout.Position, len(order))
	for k, key := range order {
		pos[key] = slots[k]
	}
	return start.WithPositions(pos)
}
