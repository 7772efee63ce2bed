package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/cwbudde/keyanneal/internal/engine"
	"github.com/cwbudde/keyanneal/internal/layout"
)

// JobConfig holds the configuration of an optimization job.
// The request is stored whole so that a checkpoint alone is enough to resume.
type JobConfig struct {
	// Name labels the job, usually the keyboard file it started from
	Name string `json:"name,omitempty"`

	Request engine.Request `json:"request"`

	// CheckpointInterval saves a checkpoint every N seconds (0 = disabled)
	CheckpointInterval int `json:"checkpointInterval,omitempty"`
}

// Checkpoint is the best result of a job at some point in time.
//
// Only the best layout is saved, not the per-restart annealing state
// (temperature, register, generator position). Resuming starts a fresh
// search from the saved layout, so a resumed run is not a continuation of
// the interrupted trajectory, but its best score never gets worse than the
// checkpoint's.
type Checkpoint struct {
	JobID string `json:"jobId"`

	// BestLayout is the layout that produced BestScore
	BestLayout *layout.Layout `json:"bestLayout"`

	BestScore float64 `json:"bestScore"`

	// InitialScore is the score of the starting layout, for tracking improvement
	InitialScore float64 `json:"initialScore"`

	// Iteration is the run-level iteration counter at checkpoint time
	Iteration int `json:"iteration"`

	Timestamp time.Time `json:"timestamp"`

	Config JobConfig `json:"config"`
}

// CheckpointInfo contains checkpoint metadata for listings.
type CheckpointInfo struct {
	JobID     string    `json:"jobId"`
	Name      string    `json:"name,omitempty"`
	BestScore float64   `json:"bestScore"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Strategy  string    `json:"strategy"`
	Keys      int       `json:"keys"`
	Layout    string    `json:"layout"`
}

// NewCheckpoint creates a checkpoint from job state.
func NewCheckpoint(jobID string, best *layout.Layout, bestScore, initialScore float64, iteration int, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:        jobID,
		BestLayout:   best,
		BestScore:    bestScore,
		InitialScore: initialScore,
		Iteration:    iteration,
		Timestamp:    time.Now(),
		Config:       config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	info := CheckpointInfo{
		JobID:     c.JobID,
		Name:      c.Config.Name,
		BestScore: c.BestScore,
		Iteration: c.Iteration,
		Timestamp: c.Timestamp,
		Strategy:  string(c.Config.Request.Strategy),
	}
	if info.Strategy == "" {
		info.Strategy = string(engine.StrategyAnneal)
	}
	if c.BestLayout != nil {
		info.Keys = c.BestLayout.Len()
		info.Layout = c.BestLayout.String()
	}
	return info
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if c.BestLayout == nil || c.BestLayout.Len() == 0 {
		return &ValidationError{Field: "BestLayout", Reason: "cannot be empty"}
	}
	if c.BestScore < 0 {
		return &ValidationError{Field: "BestScore", Reason: "cannot be negative"}
	}
	if c.InitialScore < 0 {
		return &ValidationError{Field: "InitialScore", Reason: "cannot be negative"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Request.Iterations <= 0 {
		return &ValidationError{Field: "Config.Request.Iterations", Reason: "must be positive"}
	}
	if c.Config.Request.NumRestarts <= 0 {
		return &ValidationError{Field: "Config.Request.NumRestarts", Reason: "must be positive"}
	}
	if want, got := keySet(c.Config.Request.Layout), layoutKeys(c.BestLayout); want != got {
		return &ValidationError{
			Field:  "BestLayout",
			Reason: fmt.Sprintf("key set mismatch: config has %q, layout has %q", want, got),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
// The key set, text and weights must match, otherwise the saved score is
// meaningless for the new search.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if want, got := keySet(c.Config.Request.Layout), keySet(config.Request.Layout); want != got {
		return &CompatibilityError{Field: "Keys", Expected: want, Actual: got}
	}
	if want, got := TextDigest(c.Config.Request.Text), TextDigest(config.Request.Text); want != got {
		return &CompatibilityError{Field: "Text", Expected: want, Actual: got}
	}
	if want, got := weightsString(c.Config.Request), weightsString(config.Request); want != got {
		return &CompatibilityError{Field: "Weights", Expected: want, Actual: got}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}

// TextDigest returns a short hash identifying a reference text
func TextDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:6])
}

func keySet(m map[string]layout.Position) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += k
	}
	return out
}

func layoutKeys(l *layout.Layout) string {
	out := ""
	for _, r := range l.Keys() {
		out += string(r)
	}
	return out
}

func weightsString(r engine.Request) string {
	if r.Weights == nil {
		return "none"
	}
	return fmt.Sprintf("%g/%g/%g", r.Weights.Distance, r.Weights.HandBalance, r.Weights.SameFinger)
}
