package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/keyanneal/internal/fit"
)

// Annealer runs multi-restart simulated annealing over layout permutations.
//
// Each restart keeps a single layout register that is both the running best
// and the basis for the next neighbor. An improving candidate replaces the
// register and the best score; a worse candidate accepted by the Metropolis
// rule replaces the register only, so the register can end up scoring worse
// than the best score.
type Annealer struct {
	params Params
}

// NewAnnealer creates an annealer with the given hyperparameters
func NewAnnealer(params Params) *Annealer {
	return &Annealer{params: params}
}

// Params returns the hyperparameters of the annealer
func (a *Annealer) Params() Params {
	return a.params
}

// Run executes all restarts and returns the best one.
// Restart i draws from its own generator seeded with Seed+i, so each restart
// follows the same trajectory whatever the worker count.
func (a *Annealer) Run(ctx context.Context, p Problem, report ProgressFunc) (*Result, error) {
	if err := a.params.Validate(); err != nil {
		return nil, err
	}
	if p.Start == nil || p.Start.Len() == 0 {
		return nil, fmt.Errorf("starting layout is required")
	}
	if report == nil {
		report = func(Progress) {}
	}

	ev := fit.NewEvaluator(p.Start, p.Text, p.Fingers)
	slog.Debug("Compiled reference text", "keys", p.Start.Len(), "strokes", ev.Strokes())

	workers := a.params.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > a.params.Restarts {
		workers = a.params.Restarts
	}

	var (
		counter  atomic.Int64
		best     bestTracker
		wg       sync.WaitGroup
		sem      = make(chan struct{}, workers)
		restarts = make([]RestartResult, a.params.Restarts)
		errs     = make([]error, a.params.Restarts)
	)

	for r := 0; r < a.params.Restarts; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				errs[r] = ctx.Err()
				return
			}

			res, err := a.runRestart(ctx, r, p, ev, report, &counter)
			if err != nil {
				errs[r] = err
				return
			}
			restarts[r] = res
			improved := best.offer(res)

			slog.Info("Restart finished",
				"restart", r,
				"score", res.Score,
				"evaluations", res.Evaluations,
				"improvements", res.Improvements,
				"accepted", res.Accepted,
				"new_run_best", improved,
			)
			report(Progress{
				Kind:                KindRestartDone,
				Restart:             r,
				Iteration:           res.Evaluations,
				IterationsCompleted: int(counter.Load()),
				Layout:              res.Layout,
				Score:               res.Score,
			})
		}(r)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	bestLayout, bestScore, _ := best.get()
	evaluations := 0
	for _, r := range restarts {
		evaluations += r.Evaluations
	}

	return &Result{
		Layout:      bestLayout,
		Score:       bestScore,
		Iterations:  int(counter.Load()),
		Evaluations: evaluations,
		Restarts:    restarts,
		Stats:       Summarize(restarts),
	}, nil
}

// runRestart runs one annealing chain from a fresh copy of the start layout
func (a *Annealer) runRestart(ctx context.Context, r int, p Problem, ev *fit.Evaluator, report ProgressFunc, counter *atomic.Int64) (RestartResult, error) {
	seed := a.params.Seed + int64(r)
	rng := rand.New(rand.NewSource(seed))

	current := p.Start.Clone()
	bestScore := math.Inf(1)
	temperature := a.params.InitialTemperature
	accepted := 0
	tracker := fit.NewConvergenceTracker(a.params.Convergence)

	res := RestartResult{Restart: r, Seed: seed}
	done := ctx.Done()

	for j := 0; j < a.params.Iterations; j++ {
		select {
		case <-done:
			return RestartResult{}, ctx.Err()
		default:
		}

		candidate := Tweak(current, rng)
		score := fit.Score(ev.Evaluate(candidate), p.Weights)
		res.Evaluations++

		if score < bestScore {
			current = candidate
			bestScore = score
			res.Improvements++
			report(Progress{
				Kind:                KindImprovement,
				Restart:             r,
				Iteration:           j,
				IterationsCompleted: int(counter.Load()),
				Layout:              current,
				Score:               bestScore,
				Temperature:         temperature,
			})
		} else {
			delta := score - bestScore
			probability := math.Exp(-delta / temperature)
			if rng.Float64() < probability {
				current = candidate
				accepted++
				res.Accepted++
			}
		}

		if j%CoolingInterval == 0 {
			temperature *= a.params.CoolingRate
			if temperature < minTemperature {
				temperature = minTemperature
			}
			rate := float64(accepted) / CoolingInterval
			accepted = 0
			total := counter.Add(CoolingInterval)

			slog.Debug("Cooling step",
				"restart", r,
				"iteration", j,
				"best_score", bestScore,
				"temperature", temperature,
				"acceptance_rate", rate,
			)
			report(Progress{
				Kind:                KindCooling,
				Restart:             r,
				Iteration:           j,
				IterationsCompleted: int(total),
				Layout:              current,
				Score:               bestScore,
				Temperature:         temperature,
				AcceptanceRate:      rate,
			})

			if tracker.Update(bestScore) {
				res.Stalled = true
				slog.Debug("Restart stalled",
					"restart", r,
					"iteration", j,
					"stale_boundaries", tracker.Stale(),
					"best_score", tracker.Best(),
				)
				break
			}
		}
	}

	res.Layout = current
	res.Score = bestScore
	return res, nil
}
