package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/keyanneal/internal/engine"
	"github.com/cwbudde/keyanneal/internal/fit"
	"github.com/cwbudde/keyanneal/internal/opt"
	"github.com/cwbudde/keyanneal/internal/store"
)

// workerEnv holds what a job writes to besides the job manager.
// A nil store disables checkpoints and traces, a nil history disables run
// records.
type workerEnv struct {
	engine  *engine.Engine
	store   *store.FSStore
	history *store.History
}

// runJob executes an optimization job in the background.
// If the store is set and the job has checkpointInterval > 0, periodic
// checkpoints are saved; a final checkpoint is always written.
func runJob(ctx context.Context, jm *JobManager, env workerEnv, jobID string) error {
	defer jm.clearCancel(jobID)

	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if env.engine == nil {
		env.engine = engine.New()
	}

	if err := ctx.Err(); err != nil {
		markJobCancelled(jm, jobID)
		finishJob(jm, jobID, 0)
		return engine.ErrCancelled
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	req := job.Config.Request
	slog.Info("Starting job",
		"job_id", jobID,
		"name", job.Config.Name,
		"keys", len(req.Layout),
		"strategy", req.Strategy,
	)

	problem, err := req.Problem()
	if err != nil {
		markJobFailed(jm, jobID, err)
		finishJob(jm, jobID, 0)
		return err
	}
	initialScore := fit.Score(fit.Evaluate(problem.Start, problem.Text, problem.Fingers), problem.Weights)
	jm.UpdateJob(jobID, func(j *Job) {
		j.InitialScore = initialScore
	})

	var trace *store.TraceWriter
	if env.store != nil {
		trace, err = store.NewTraceWriter(env.store.BaseDir(), jobID, false)
		if err != nil {
			slog.Warn("Progress trace disabled", "job_id", jobID, "error", err)
			trace = nil
		} else {
			defer trace.Close()
		}
	}

	onProgress := func(m engine.Message) {
		jm.UpdateJob(jobID, func(j *Job) {
			if m.Kind != opt.KindImprovement && m.IterationsCompleted > j.Iterations {
				j.Iterations = m.IterationsCompleted
			}
			// Only improvement snapshots pair a layout with its own score
			if m.Kind == opt.KindImprovement && (j.BestLayout == nil || m.BestMetric < j.BestScore) {
				j.BestLayout = m.BestLayout
				j.BestScore = m.BestMetric
			}
		})

		if trace != nil {
			entry := store.TraceEntry{
				Kind:                string(m.Kind),
				Restart:             m.Restart,
				Iteration:           m.Iteration,
				IterationsCompleted: m.IterationsCompleted,
				Score:               m.BestMetric,
				Temperature:         m.Temperature,
				Timestamp:           time.Now(),
			}
			if m.Kind != opt.KindCooling && m.BestLayout != nil {
				entry.Layout = m.BestLayout.String()
			}
			if err := trace.Write(entry); err != nil {
				slog.Debug("Failed to write trace entry", "job_id", jobID, "error", err)
			}
		}
	}

	start := time.Now()

	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, start, progressDone)

	checkpointDone := make(chan struct{})
	if env.store != nil && job.Config.CheckpointInterval > 0 {
		go monitorCheckpoints(ctx, jm, env.store, jobID, checkpointDone)
	}

	msg, err := env.engine.Run(ctx, req, onProgress)

	close(progressDone)
	close(checkpointDone)
	elapsed := time.Since(start)

	if errors.Is(err, engine.ErrCancelled) {
		markJobCancelled(jm, jobID)
		// The best layout so far stays resumable
		if env.store != nil {
			if err := saveCheckpoint(jm, env.store, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
		finishJob(jm, jobID, elapsed)
		return err
	}
	if err != nil {
		markJobFailed(jm, jobID, err)
		finishJob(jm, jobID, elapsed)
		return err
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		// Keep the layout that reached the best score. The result layout is
		// the winning restart's final register and can score worse.
		if j.BestLayout == nil || msg.BestMetric < j.BestScore {
			j.BestLayout = msg.BestLayout
		}
		j.BestScore = msg.BestMetric
		j.Iterations = msg.IterationsCompleted
		j.Stats = &msg.Detail.Stats
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	if env.store != nil {
		if err := saveCheckpoint(jm, env.store, jobID); err != nil {
			slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
		}
	}
	if env.history != nil {
		rec := store.NewRunRecord(jobID, job.Config.Name, req, msg.Detail, initialScore, start, endTime)
		if id, err := env.history.InsertRun(ctx, rec); err != nil {
			slog.Error("Failed to record run", "job_id", jobID, "error", err)
		} else {
			slog.Debug("Run recorded", "job_id", jobID, "run_id", id)
		}
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"initial_score", initialScore,
		"best_score", msg.BestMetric,
		"iterations_per_second", rate(msg.IterationsCompleted, elapsed),
	)

	finishJob(jm, jobID, elapsed)
	return nil
}

// finishJob broadcasts the final state of a job and releases its stream
// subscribers
func finishJob(jm *JobManager, jobID string, elapsed time.Duration) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}
	jm.broadcaster.Broadcast(jobEvent(job, rate(job.Iterations, elapsed)))
	jm.broadcaster.CleanupJob(jobID)
}

// rate returns iterations per second
func rate(iterations int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(iterations) / elapsed.Seconds()
}

// monitorProgress periodically broadcasts progress events during optimization
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, startTime time.Time, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond) // Throttle to 2 updates per second
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(jobEvent(job, rate(job.Iterations, time.Since(startTime))))
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

// monitorCheckpoints periodically saves checkpoints during optimization
func monitorCheckpoints(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string, done chan struct{}) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}

	interval := time.Duration(job.Config.CheckpointInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveCheckpoint(jm, checkpointStore, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveCheckpoint saves a checkpoint for the given job
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if job.BestLayout == nil {
		slog.Debug("Skipping checkpoint, no best layout yet", "job_id", jobID)
		return nil
	}

	checkpoint := store.NewCheckpoint(
		jobID,
		job.BestLayout,
		job.BestScore,
		job.InitialScore,
		job.Iterations,
		job.Config,
	)

	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"iteration", job.Iterations,
		"best_score", job.BestScore,
	)
	return nil
}
