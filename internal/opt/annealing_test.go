package opt

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/cwbudde/keyanneal/internal/fit"
	"github.com/cwbudde/keyanneal/internal/layout"
)

const sampleText = "The quick brown fox jumps over the lazy dog. Pack my box with five dozen liquor jugs."

func testProblem() Problem {
	return Problem{
		Start:   layout.QWERTY(),
		Text:    sampleText,
		Fingers: layout.DefaultFingers(),
		Weights: fit.DefaultWeights(),
	}
}

func testParams() Params {
	p := DefaultParams()
	p.Iterations = 3000
	p.Restarts = 3
	p.Seed = 7
	return p
}

func TestAnnealer_Deterministic(t *testing.T) {
	params := testParams()

	r1, err := NewAnnealer(params).Run(context.Background(), testProblem(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r2, err := NewAnnealer(params).Run(context.Background(), testProblem(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if r1.Score != r2.Score {
		t.Errorf("Non-deterministic score: %v vs %v", r1.Score, r2.Score)
	}
	if !r1.Layout.Equal(r2.Layout) {
		t.Error("Non-deterministic layout")
	}
	if r1.Iterations != r2.Iterations {
		t.Errorf("Non-deterministic iterations: %d vs %d", r1.Iterations, r2.Iterations)
	}
}

func TestAnnealer_RestartsMatchSingleRuns(t *testing.T) {
	params := testParams()
	multi, err := NewAnnealer(params).Run(context.Background(), testProblem(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	bestSingle := math.Inf(1)
	for i := 0; i < params.Restarts; i++ {
		single := params
		single.Restarts = 1
		single.Seed = params.Seed + int64(i)

		res, err := NewAnnealer(single).Run(context.Background(), testProblem(), nil)
		if err != nil {
			t.Fatalf("Single run %d failed: %v", i, err)
		}
		if res.Score != multi.Restarts[i].Score {
			t.Errorf("Restart %d score %v differs from single run %v", i, multi.Restarts[i].Score, res.Score)
		}
		bestSingle = math.Min(bestSingle, res.Score)
	}

	if multi.Score > bestSingle {
		t.Errorf("Multi-restart score %v worse than best single run %v", multi.Score, bestSingle)
	}
}

func TestAnnealer_ParallelMatchesSequential(t *testing.T) {
	seq := testParams()
	par := testParams()
	par.Workers = 3

	r1, err := NewAnnealer(seq).Run(context.Background(), testProblem(), nil)
	if err != nil {
		t.Fatalf("Sequential run failed: %v", err)
	}

	var mu sync.Mutex
	events := 0
	r2, err := NewAnnealer(par).Run(context.Background(), testProblem(), func(Progress) {
		mu.Lock()
		events++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Parallel run failed: %v", err)
	}

	if r1.Score != r2.Score || !r1.Layout.Equal(r2.Layout) {
		t.Errorf("Parallel result differs: %v vs %v", r1.Score, r2.Score)
	}
	if r1.Iterations != r2.Iterations {
		t.Errorf("Iteration counters differ: %d vs %d", r1.Iterations, r2.Iterations)
	}
	if events == 0 {
		t.Error("Expected progress events from parallel run")
	}
}

func TestAnnealer_ImprovementsAreMonotonicPerRestart(t *testing.T) {
	last := map[int]float64{}
	lastIter := map[int]int{}
	count := 0

	_, err := NewAnnealer(testParams()).Run(context.Background(), testProblem(), func(p Progress) {
		if p.Kind != KindImprovement && p.Kind != KindCooling {
			return
		}
		if prev, ok := last[p.Restart]; ok && p.Score > prev {
			t.Errorf("Restart %d: best score rose from %v to %v", p.Restart, prev, p.Score)
		}
		if prev, ok := lastIter[p.Restart]; ok && p.Iteration < prev {
			t.Errorf("Restart %d: iteration went back from %d to %d", p.Restart, prev, p.Iteration)
		}
		last[p.Restart] = p.Score
		lastIter[p.Restart] = p.Iteration
		count++
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if count == 0 {
		t.Fatal("No progress received")
	}
}

func TestAnnealer_IterationCounter(t *testing.T) {
	params := testParams()
	params.Iterations = 2500
	params.Restarts = 2

	res, err := NewAnnealer(params).Run(context.Background(), testProblem(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Cooling boundaries at j = 0, 1000, 2000 in each restart
	if res.Iterations != 6000 {
		t.Errorf("Iterations = %d, expected 6000", res.Iterations)
	}
	if res.Evaluations != 5000 {
		t.Errorf("Evaluations = %d, expected 5000", res.Evaluations)
	}
	if len(res.Restarts) != 2 {
		t.Errorf("Expected 2 restart results, got %d", len(res.Restarts))
	}
}

func TestAnnealer_TemperatureFloor(t *testing.T) {
	params := testParams()
	params.CoolingRate = 1e-200
	params.Iterations = 5000
	params.Restarts = 1

	res, err := NewAnnealer(params).Run(context.Background(), testProblem(), func(p Progress) {
		if p.Kind == KindCooling && !(p.Temperature > 0) {
			t.Errorf("Temperature reached %v at iteration %d", p.Temperature, p.Iteration)
		}
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if math.IsNaN(res.Score) || math.IsInf(res.Score, 0) {
		t.Errorf("Expected finite score, got %v", res.Score)
	}
}

func TestAnnealer_Cancellation(t *testing.T) {
	params := testParams()
	params.Iterations = 1 << 30
	params.Restarts = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := NewAnnealer(params).Run(ctx, testProblem(), func(p Progress) {
		if p.Kind == KindCooling && p.Iteration >= 2000 {
			cancel()
		}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if res != nil {
		t.Error("Cancelled run should not return a result")
	}
}

func TestAnnealer_StallStopsRestartEarly(t *testing.T) {
	params := testParams()
	params.Restarts = 1
	params.Iterations = 10000
	params.Convergence = fit.ConvergenceConfig{Enabled: true, Patience: 1, Threshold: 1e9}

	res, err := NewAnnealer(params).Run(context.Background(), testProblem(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Restarts[0].Stalled {
		t.Error("Expected restart to stall")
	}
	if res.Evaluations != 1001 {
		t.Errorf("Expected stop after the second cooling boundary (1001 evaluations), got %d", res.Evaluations)
	}
}

func TestAnnealer_EmptyTextScoresZero(t *testing.T) {
	p := testProblem()
	p.Text = ""
	params := testParams()
	params.Restarts = 1
	params.Iterations = 10

	res, err := NewAnnealer(params).Run(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Score != 0 {
		t.Errorf("Expected score 0 for empty text, got %v", res.Score)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
		field  string
	}{
		{"zero iterations", func(p *Params) { p.Iterations = 0 }, "iterations"},
		{"negative restarts", func(p *Params) { p.Restarts = -1 }, "numRestarts"},
		{"zero temperature", func(p *Params) { p.InitialTemperature = 0 }, "initialTemperature"},
		{"infinite temperature", func(p *Params) { p.InitialTemperature = math.Inf(1) }, "initialTemperature"},
		{"zero cooling", func(p *Params) { p.CoolingRate = 0 }, "coolingRate"},
		{"cooling above one", func(p *Params) { p.CoolingRate = 1.5 }, "coolingRate"},
		{"negative workers", func(p *Params) { p.Workers = -2 }, "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)

			err := p.Validate()
			var pe *ParamError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected *ParamError, got %v", err)
			}
			if pe.Field != tt.field {
				t.Errorf("Field = %s, expected %s", pe.Field, tt.field)
			}
		})
	}

	p := DefaultParams()
	p.CoolingRate = 1
	if err := p.Validate(); err != nil {
		t.Errorf("Cooling rate 1 should be valid: %v", err)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]RestartResult{{Score: 2}, {Score: 4}, {Score: 6}})
	if s.Mean != 4 || s.Min != 2 || s.Max != 6 {
		t.Errorf("Unexpected stats: %+v", s)
	}
	if s.StdDev != 2 {
		t.Errorf("StdDev = %v, expected 2", s.StdDev)
	}

	single := Summarize([]RestartResult{{Score: 3}})
	if single.StdDev != 0 {
		t.Errorf("Single restart StdDev = %v, expected 0", single.StdDev)
	}
}

func TestAnnealer_AcceptedWorseMovesKeepBestScore(t *testing.T) {
	params := testParams()
	params.Restarts = 1
	params.InitialTemperature = 1e9
	params.CoolingRate = 1
	problem := testProblem()

	var mu sync.Mutex
	var improvements []float64
	var coolings []Progress
	res, err := NewAnnealer(params).Run(context.Background(), problem, func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		switch p.Kind {
		case KindImprovement:
			improvements = append(improvements, p.Score)
		case KindCooling:
			coolings = append(coolings, p)
		}
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Restarts[0].Accepted == 0 {
		t.Fatal("A hot restart should accept worse candidates")
	}

	minImproved := math.Inf(1)
	for _, s := range improvements {
		minImproved = math.Min(minImproved, s)
	}
	if res.Score != minImproved {
		t.Errorf("Score %v should be the lowest improvement score %v", res.Score, minImproved)
	}

	drifted := false
	for _, c := range coolings {
		current := fit.Score(fit.Evaluate(c.Layout, problem.Text, problem.Fingers), problem.Weights)
		if current < c.Score {
			t.Errorf("Register at j=%d scores %v, below best %v", c.Iteration, current, c.Score)
		}
		if current > c.Score {
			drifted = true
		}
	}
	if !drifted {
		t.Error("Accepted worse moves should leave the register scoring above the best score")
	}
}
