package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwbudde/keyanneal/internal/engine"
	"github.com/cwbudde/keyanneal/internal/layout"
	"github.com/cwbudde/keyanneal/internal/opt"

	_ "modernc.org/sqlite" // SQLite driver.
)

// RunRecord is one finished optimization in the history database.
type RunRecord struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"jobId"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
	Strategy   string    `json:"strategy"`
	Keys       int       `json:"keys"`
	TextDigest string    `json:"textDigest"`
	TextLength int       `json:"textLength"`

	Iterations         int     `json:"iterations"`
	Restarts           int     `json:"numRestarts"`
	InitialTemperature float64 `json:"initialTemperature"`
	CoolingRate        float64 `json:"coolingRate"`
	Seed               int64   `json:"seed"`
	WeightDistance     float64 `json:"weightDistance"`
	WeightHandBalance  float64 `json:"weightHandBalance"`
	WeightSameFinger   float64 `json:"weightSameFinger"`

	InitialScore        float64 `json:"initialScore"`
	BestScore           float64 `json:"bestScore"`
	IterationsCompleted int     `json:"iterationsCompleted"`
	Evaluations         int     `json:"evaluations"`

	// Layout is the row/column reading of the best layout
	Layout     string         `json:"layout"`
	BestLayout *layout.Layout `json:"bestLayout,omitempty"`

	RestartScores []RestartRecord `json:"restarts,omitempty"`
}

// RestartRecord is the outcome of one restart of a recorded run.
type RestartRecord struct {
	Restart     int     `json:"restart"`
	Seed        int64   `json:"seed"`
	Score       float64 `json:"score"`
	Evaluations int     `json:"evaluations"`
	Stalled     bool    `json:"stalled"`
}

// NewRunRecord builds a history record from a finished run.
func NewRunRecord(jobID, name string, req engine.Request, res *opt.Result, initialScore float64, started, ended time.Time) RunRecord {
	rec := RunRecord{
		JobID:               jobID,
		Name:                name,
		StartedAt:           started,
		EndedAt:             ended,
		Strategy:            string(req.Strategy),
		Keys:                len(req.Layout),
		TextDigest:          TextDigest(req.Text),
		TextLength:          len(req.Text),
		Iterations:          req.Iterations,
		Restarts:            req.NumRestarts,
		InitialTemperature:  req.InitialTemperature,
		CoolingRate:         req.CoolingRate,
		Seed:                req.Seed,
		InitialScore:        initialScore,
		BestScore:           res.Score,
		IterationsCompleted: res.Iterations,
		Evaluations:         res.Evaluations,
		BestLayout:          res.Layout,
	}
	if rec.Strategy == "" {
		rec.Strategy = string(engine.StrategyAnneal)
	}
	if req.Weights != nil {
		rec.WeightDistance = req.Weights.Distance
		rec.WeightHandBalance = req.Weights.HandBalance
		rec.WeightSameFinger = req.Weights.SameFinger
	}
	if res.Layout != nil {
		rec.Layout = res.Layout.String()
	}
	for _, r := range res.Restarts {
		rec.RestartScores = append(rec.RestartScores, RestartRecord{
			Restart:     r.Restart,
			Seed:        r.Seed,
			Score:       r.Score,
			Evaluations: r.Evaluations,
			Stalled:     r.Stalled,
		})
	}
	return rec
}

// HistoryFilter narrows ListRuns.
type HistoryFilter struct {
	Name       string
	Strategy   string
	TextDigest string
	Since      *time.Time
	Limit      int
}

// History wraps SQLite access for run history.
type History struct {
	db *sql.DB
}

// OpenHistory opens or creates the history database and applies migrations.
func OpenHistory(path string) (*History, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	// A single connection keeps :memory: databases alive across calls
	db.SetMaxOpenConns(1)

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate history: %w", err)
	}
	return h, nil
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY,
			job_id TEXT NOT NULL,
			name TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			strategy TEXT NOT NULL,
			keys INTEGER NOT NULL,
			text_digest TEXT NOT NULL,
			text_length INTEGER NOT NULL,
			iterations INTEGER NOT NULL,
			restarts INTEGER NOT NULL,
			initial_temperature REAL NOT NULL,
			cooling_rate REAL NOT NULL,
			seed INTEGER NOT NULL,
			w_distance REAL NOT NULL,
			w_hand_balance REAL NOT NULL,
			w_same_finger REAL NOT NULL,
			initial_score REAL NOT NULL,
			best_score REAL NOT NULL,
			iterations_completed INTEGER NOT NULL,
			evaluations INTEGER NOT NULL,
			layout TEXT NOT NULL,
			layout_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS restart_scores (
			run_id INTEGER NOT NULL,
			restart INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			score REAL NOT NULL,
			evaluations INTEGER NOT NULL,
			stalled INTEGER NOT NULL,
			PRIMARY KEY (run_id, restart)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_ended_at ON runs(ended_at);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_text_digest ON runs(text_digest, best_score);`,
	}
	for _, stmt := range stmts {
		if _, err := h.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun stores a finished run and its restart scores.
func (h *History) InsertRun(ctx context.Context, rec RunRecord) (id int64, err error) {
	layoutJSON := []byte("{}")
	if rec.BestLayout != nil {
		if layoutJSON, err = json.Marshal(rec.BestLayout); err != nil {
			return 0, fmt.Errorf("failed to encode layout: %w", err)
		}
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (job_id, name, started_at, ended_at, strategy, keys, text_digest, text_length,
			iterations, restarts, initial_temperature, cooling_rate, seed,
			w_distance, w_hand_balance, w_same_finger,
			initial_score, best_score, iterations_completed, evaluations, layout, layout_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.Name,
		rec.StartedAt.Format(time.RFC3339Nano), rec.EndedAt.Format(time.RFC3339Nano),
		rec.Strategy, rec.Keys, rec.TextDigest, rec.TextLength,
		rec.Iterations, rec.Restarts, rec.InitialTemperature, rec.CoolingRate, rec.Seed,
		rec.WeightDistance, rec.WeightHandBalance, rec.WeightSameFinger,
		rec.InitialScore, rec.BestScore, rec.IterationsCompleted, rec.Evaluations,
		rec.Layout, string(layoutJSON),
	)
	if err != nil {
		return 0, err
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, err
	}

	if len(rec.RestartScores) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO restart_scores (run_id, restart, seed, score, evaluations, stalled)
			 VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()
		for _, r := range rec.RestartScores {
			if _, err := stmt.ExecContext(ctx, id, r.Restart, r.Seed, r.Score, r.Evaluations, boolInt(r.Stalled)); err != nil {
				return 0, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

const runColumns = `id, job_id, name, started_at, ended_at, strategy, keys, text_digest, text_length,
	iterations, restarts, initial_temperature, cooling_rate, seed,
	w_distance, w_hand_balance, w_same_finger,
	initial_score, best_score, iterations_completed, evaluations, layout, layout_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		rec            RunRecord
		started, ended string
		layoutJSON     string
	)
	err := row.Scan(&rec.ID, &rec.JobID, &rec.Name, &started, &ended, &rec.Strategy, &rec.Keys,
		&rec.TextDigest, &rec.TextLength, &rec.Iterations, &rec.Restarts,
		&rec.InitialTemperature, &rec.CoolingRate, &rec.Seed,
		&rec.WeightDistance, &rec.WeightHandBalance, &rec.WeightSameFinger,
		&rec.InitialScore, &rec.BestScore, &rec.IterationsCompleted, &rec.Evaluations,
		&rec.Layout, &layoutJSON)
	if err != nil {
		return RunRecord{}, err
	}
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return RunRecord{}, fmt.Errorf("bad started_at %q: %w", started, err)
	}
	if rec.EndedAt, err = time.Parse(time.RFC3339Nano, ended); err != nil {
		return RunRecord{}, fmt.Errorf("bad ended_at %q: %w", ended, err)
	}
	if layoutJSON != "{}" {
		var l layout.Layout
		if err := json.Unmarshal([]byte(layoutJSON), &l); err != nil {
			return RunRecord{}, fmt.Errorf("bad layout of run %d: %w", rec.ID, err)
		}
		rec.BestLayout = &l
	}
	return rec, nil
}

// ListRuns returns recorded runs, most recent first.
func (h *History) ListRuns(ctx context.Context, f HistoryFilter) ([]RunRecord, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if f.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, f.Name)
	}
	if f.Strategy != "" {
		clauses = append(clauses, "strategy = ?")
		args = append(args, f.Strategy)
	}
	if f.TextDigest != "" {
		clauses = append(clauses, "text_digest = ?")
		args = append(args, f.TextDigest)
	}
	if f.Since != nil {
		clauses = append(clauses, "ended_at >= ?")
		args = append(args, f.Since.Format(time.RFC3339Nano))
	}
	query := "SELECT " + runColumns + " FROM runs WHERE " + strings.Join(clauses, " AND ") + " ORDER BY ended_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRun returns a run with its restart scores.
func (h *History) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	row := h.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, err
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT restart, seed, score, evaluations, stalled FROM restart_scores WHERE run_id = ? ORDER BY restart`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r RestartRecord
		if err := rows.Scan(&r.Restart, &r.Seed, &r.Score, &r.Evaluations, &r.Stalled); err != nil {
			return nil, err
		}
		rec.RestartScores = append(rec.RestartScores, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// BestRun returns the lowest-scoring run for a reference text, or nil when
// the text has no recorded runs.
func (h *History) BestRun(ctx context.Context, textDigest string) (*RunRecord, error) {
	row := h.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE text_digest = ? ORDER BY best_score ASC, id ASC LIMIT 1", textDigest)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
