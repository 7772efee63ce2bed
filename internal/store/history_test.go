package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/keyanneal/internal/engine"
	"github.com/cwbudde/keyanneal/internal/layout"
	"github.com/cwbudde/keyanneal/internal/opt"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()

	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenHistory failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func testRunRecord(name string, score float64, ended time.Time) RunRecord {
	req := engine.DefaultRequest()
	req.Text = "the quick brown fox"
	res := &opt.Result{
		Layout:      layout.QWERTY(),
		Score:       score,
		Iterations:  200000,
		Evaluations: 200000,
		Restarts: []opt.RestartResult{
			{Restart: 0, Seed: 42, Score: score, Evaluations: 100000},
			{Restart: 1, Seed: 43, Score: score + 5, Evaluations: 100000, Stalled: true},
		},
	}
	return NewRunRecord("job-"+name, name, req, res, score*2, ended.Add(-time.Minute), ended)
}

func TestHistory_InsertAndGet(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	rec := testRunRecord("qwerty", 120, time.Now())
	id, err := h.InsertRun(ctx, rec)
	if err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}

	got, err := h.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Name != "qwerty" || got.BestScore != 120 || got.InitialScore != 240 {
		t.Errorf("Unexpected run: %+v", got)
	}
	if got.Strategy != "anneal" || got.Keys != 26 || got.Restarts != 5 {
		t.Errorf("Unexpected settings: strategy=%s keys=%d restarts=%d", got.Strategy, got.Keys, got.Restarts)
	}
	if got.WeightDistance != 1 || got.WeightHandBalance != 1 || got.WeightSameFinger != 1 {
		t.Errorf("Unexpected weights: %v %v %v", got.WeightDistance, got.WeightHandBalance, got.WeightSameFinger)
	}
	if got.BestLayout == nil || !got.BestLayout.Equal(layout.QWERTY()) {
		t.Error("Best layout not restored")
	}
	if got.Layout != layout.QWERTY().String() {
		t.Errorf("Layout = %s", got.Layout)
	}
	if len(got.RestartScores) != 2 || !got.RestartScores[1].Stalled || got.RestartScores[0].Stalled {
		t.Errorf("Unexpected restart scores: %+v", got.RestartScores)
	}
	if !got.EndedAt.Equal(rec.EndedAt) {
		t.Errorf("EndedAt = %v, expected %v", got.EndedAt, rec.EndedAt)
	}
}

func TestHistory_GetRunMissing(t *testing.T) {
	h := openTestHistory(t)

	_, err := h.GetRun(context.Background(), 99)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected sql.ErrNoRows, got %v", err)
	}
}

func TestHistory_ListRuns(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, name := range []string{"a", "b", "a"} {
		if _, err := h.InsertRun(ctx, testRunRecord(name, float64(100+i), base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("InsertRun failed: %v", err)
		}
	}

	all, err := h.ListRuns(ctx, HistoryFilter{})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(all))
	}
	if all[0].BestScore != 102 {
		t.Errorf("Expected most recent run first, got score %v", all[0].BestScore)
	}

	named, _ := h.ListRuns(ctx, HistoryFilter{Name: "a"})
	if len(named) != 2 {
		t.Errorf("Expected 2 runs named a, got %d", len(named))
	}

	limited, _ := h.ListRuns(ctx, HistoryFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("Expected 1 run with limit, got %d", len(limited))
	}

	since := base.Add(90 * time.Minute)
	recent, _ := h.ListRuns(ctx, HistoryFilter{Since: &since})
	if len(recent) != 1 {
		t.Errorf("Expected 1 run since %v, got %d", since, len(recent))
	}

	none, _ := h.ListRuns(ctx, HistoryFilter{Strategy: "mayfly"})
	if len(none) != 0 {
		t.Errorf("Expected no mayfly runs, got %d", len(none))
	}
}

func TestHistory_BestRun(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	best, err := h.BestRun(ctx, TextDigest("the quick brown fox"))
	if err != nil {
		t.Fatalf("BestRun failed: %v", err)
	}
	if best != nil {
		t.Fatal("Expected no best run in an empty history")
	}

	for _, score := range []float64{130, 90, 110} {
		if _, err := h.InsertRun(ctx, testRunRecord("x", score, time.Now())); err != nil {
			t.Fatalf("InsertRun failed: %v", err)
		}
	}

	best, err = h.BestRun(ctx, TextDigest("the quick brown fox"))
	if err != nil {
		t.Fatalf("BestRun failed: %v", err)
	}
	if best == nil || best.BestScore != 90 {
		t.Errorf("Expected best score 90, got %+v", best)
	}
}

func TestHistory_ReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "history.db")
	ctx := context.Background()

	h, err := OpenHistory(path)
	if err != nil {
		t.Fatalf("OpenHistory failed: %v", err)
	}
	if _, err := h.InsertRun(ctx, testRunRecord("persist", 50, time.Now())); err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}
	h.Close()

	h, err = OpenHistory(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer h.Close()

	runs, err := h.ListRuns(ctx, HistoryFilter{})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Name != "persist" {
		t.Errorf("Expected persisted run, got %+v", runs)
	}
}
