package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cwbudde/keyanneal/internal/fit"
	"github.com/cwbudde/keyanneal/internal/layout"
	"github.com/cwbudde/keyanneal/internal/opt"
)

func testRequest() Request {
	req := DefaultRequest()
	req.Text = "hello world, the quick brown fox"
	req.Iterations = 2000
	req.NumRestarts = 2
	return req
}

func TestEngine_RunReturnsResult(t *testing.T) {
	var progress []Message
	res, err := New().Run(context.Background(), testRequest(), func(m Message) {
		progress = append(progress, m)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Type != TypeResult {
		t.Errorf("Type = %s, expected result", res.Type)
	}
	if res.BestLayout == nil || res.BestLayout.Len() != 26 {
		t.Fatalf("Expected a 26-key layout, got %v", res.BestLayout)
	}
	if res.IterationsCompleted != 4000 {
		t.Errorf("IterationsCompleted = %d, expected 4000", res.IterationsCompleted)
	}
	if res.Detail == nil || len(res.Detail.Restarts) != 2 {
		t.Error("Expected detail with two restarts")
	}
	if len(progress) == 0 {
		t.Fatal("Expected progress messages")
	}
	for _, m := range progress {
		if m.Type != TypeProgress {
			t.Errorf("Progress message has type %s", m.Type)
		}
	}
}

func TestEngine_ImprovementReportsLoopIndex(t *testing.T) {
	req := testRequest()
	req.NumRestarts = 1
	req.Iterations = 3000

	var improvements, coolings int
	res, err := New().Run(context.Background(), req, func(m Message) {
		switch m.Kind {
		case opt.KindImprovement:
			improvements++
			if m.IterationsCompleted != m.Iteration {
				t.Errorf("improvement at j=%d has iterationsCompleted=%d", m.Iteration, m.IterationsCompleted)
			}
		case opt.KindCooling:
			coolings++
			if want := (m.Iteration/1000 + 1) * 1000; m.IterationsCompleted != want {
				t.Errorf("cooling at j=%d has iterationsCompleted=%d, expected %d", m.Iteration, m.IterationsCompleted, want)
			}
		}
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if improvements == 0 || coolings != 3 {
		t.Errorf("Expected improvements and 3 coolings, got %d and %d", improvements, coolings)
	}
	if res.IterationsCompleted != 3000 {
		t.Errorf("Result IterationsCompleted = %d, expected 3000", res.IterationsCompleted)
	}
}

func TestEngine_RunIsDeterministic(t *testing.T) {
	req := testRequest()
	req.NumRestarts = 1

	r1, err := New().Run(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r2, err := New().Run(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if r1.BestMetric != r2.BestMetric || !r1.BestLayout.Equal(r2.BestLayout) {
		t.Errorf("Seeded runs differ: %v vs %v", r1.BestMetric, r2.BestMetric)
	}
}

func TestEngine_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Request)
		field  string
	}{
		{"zero iterations", func(r *Request) { r.Iterations = 0 }, "iterations"},
		{"zero restarts", func(r *Request) { r.NumRestarts = 0 }, "numRestarts"},
		{"negative temperature", func(r *Request) { r.InitialTemperature = -1 }, "initialTemperature"},
		{"cooling rate above one", func(r *Request) { r.CoolingRate = 1.01 }, "coolingRate"},
		{"missing weights", func(r *Request) { r.Weights = nil }, "weights"},
		{"negative weight", func(r *Request) { r.Weights = &fit.Weights{Distance: -1} }, "weights"},
		{"empty layout", func(r *Request) { r.Layout = nil }, "layout"},
		{"duplicate position", func(r *Request) {
			r.Layout = map[string]layout.Position{"A": {Row: 0, Col: 0}, "B": {Row: 0, Col: 0}}
		}, "layout"},
		{"unknown finger", func(r *Request) {
			r.FingerAssignments = layout.FingerAssignment{"A": "Left Toe"}
		}, "fingerAssignments"},
		{"unknown strategy", func(r *Request) { r.Strategy = "genetic" }, "strategy"},
		{"small mayfly population", func(r *Request) {
			r.Strategy = StrategyMayfly
			r.PopulationSize = 3
		}, "popSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest()
			tt.modify(&req)

			_, err := New().Start(context.Background(), req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Expected *ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %s, expected %s", ve.Field, tt.field)
			}
		})
	}
}

func TestEngine_StartStreamsProgress(t *testing.T) {
	h, err := New().Start(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	lastIter := map[int]int{}
	count := 0
	for m := range h.Progress() {
		if prev, ok := lastIter[m.Restart]; ok && m.Iteration < prev {
			t.Errorf("Restart %d: iteration went back from %d to %d", m.Restart, prev, m.Iteration)
		}
		lastIter[m.Restart] = m.Iteration
		count++
	}

	res, err := h.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.Type != TypeResult {
		t.Errorf("Type = %s, expected result", res.Type)
	}
	if count == 0 && h.Dropped() == 0 {
		t.Error("Expected progress messages")
	}
}

func TestEngine_CancelStopsRun(t *testing.T) {
	req := testRequest()
	req.Iterations = 1 << 30
	req.NumRestarts = 3

	e := New()
	e.ProgressBuffer = 1
	h, err := e.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let the search get going before cancelling
	select {
	case <-h.Progress():
	case <-time.After(5 * time.Second):
		t.Fatal("No progress before cancellation")
	}
	h.Cancel()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after Cancel")
	}

	res, err := h.Wait()
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}
	if res.BestLayout != nil {
		t.Error("Cancelled run should not carry a result")
	}

	// Progress channel must be closed
	for range h.Progress() {
	}
}

func TestEngine_ParentContextCancels(t *testing.T) {
	req := testRequest()
	req.Iterations = 1 << 30

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New().Run(ctx, req, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}
}

func TestEngine_MayflyStrategy(t *testing.T) {
	req := testRequest()
	req.Strategy = StrategyMayfly
	req.Iterations = 5
	req.NumRestarts = 1
	req.PopulationSize = 20

	res, err := New().Run(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := fit.Score(fit.Evaluate(res.BestLayout, req.Text, req.FingerAssignments), *req.Weights)
	if res.BestMetric != want {
		t.Errorf("BestMetric = %v, layout scores %v", res.BestMetric, want)
	}
}

func TestRequest_JSONFieldNames(t *testing.T) {
	data := []byte(`{
		"layout": {"A": [0, 0], "B": [0, 1]},
		"text": "AB",
		"fingerAssignments": {"A": "Left Pinky"},
		"initialTemperature": 50,
		"coolingRate": 0.99,
		"iterations": 10,
		"numRestarts": 2,
		"weights": {"distance": 1, "handBalance": 0.5, "sameFinger": 2}
	}`)

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(req.Layout) != 2 || req.Layout["B"] != (layout.Position{Row: 0, Col: 1}) {
		t.Errorf("Unexpected layout: %v", req.Layout)
	}
	if req.FingerAssignments["A"] != layout.LeftPinky {
		t.Errorf("Unexpected fingers: %v", req.FingerAssignments)
	}
	if req.NumRestarts != 2 || req.Iterations != 10 || req.CoolingRate != 0.99 {
		t.Errorf("Unexpected hyperparameters: %+v", req)
	}
	if req.Weights == nil || req.Weights.HandBalance != 0.5 {
		t.Errorf("Unexpected weights: %v", req.Weights)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestMessage_JSONShape(t *testing.T) {
	l := layout.MustNew(map[string]layout.Position{"A": {Row: 0, Col: 0}})
	data, err := json.Marshal(Message{Type: TypeProgress, BestLayout: l, BestMetric: 3, IterationsCompleted: 1000})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"type", "bestLayout", "bestMetric", "iterationsCompleted"} {
		if _, ok := out[key]; !ok {
			t.Errorf("Missing field %s in %s", key, data)
		}
	}
	if out["type"] != "progress" {
		t.Errorf("type = %v, expected progress", out["type"])
	}
}

func TestRequest_WithDefaults(t *testing.T) {
	req := Request{Text: "abc", Iterations: 500, CoolingRate: -1}.WithDefaults()

	if req.Iterations != 500 {
		t.Errorf("Set field overwritten: %d", req.Iterations)
	}
	if req.CoolingRate != -1 {
		t.Error("Invalid value should be kept for validation")
	}
	if len(req.Layout) != 26 || req.Weights == nil || req.NumRestarts != 5 || req.Strategy != StrategyAnneal {
		t.Errorf("Defaults not applied: %+v", req)
	}

	var ve *ValidationError
	if err := req.Validate(); !errors.As(err, &ve) || ve.Field != "coolingRate" {
		t.Errorf("Expected coolingRate error, got %v", err)
	}
}
