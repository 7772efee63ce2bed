package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cwbudde/keyanneal/internal/config"
	"github.com/cwbudde/keyanneal/internal/engine"
	"github.com/cwbudde/keyanneal/internal/fit"
	"github.com/cwbudde/keyanneal/internal/layout"
	"github.com/cwbudde/keyanneal/internal/opt"
	"github.com/cwbudde/keyanneal/internal/store"
	"github.com/cwbudde/keyanneal/internal/tui"
)

var (
	runFlags requestFlags
	runOpts  runOptions
)

// runOptions control what happens around a local run
type runOptions struct {
	tui       bool
	jsonOut   bool
	outPath   string
	noHistory bool
	historyDB string
	save      bool
	dataDir   string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Optimize a layout for a reference text",
	Long: `Runs simulated annealing on the starting layout (QWERTY unless --keyboard
is given) and prints the best layout found. Press Ctrl+C to stop early.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, name, err := runFlags.build(cmd)
		if err != nil {
			return err
		}
		return executeRun(cmd, req, name, runOpts, "")
	},
}

func init() {
	runFlags.register(runCmd, true)
	fl := runCmd.Flags()
	fl.BoolVar(&runOpts.tui, "tui", false, "Show live progress in the terminal")
	fl.BoolVar(&runOpts.jsonOut, "json", false, "Print the result message as JSON")
	fl.StringVarP(&runOpts.outPath, "out", "o", "", "Write the resulting layout as a keyboard file (YAML)")
	fl.BoolVar(&runOpts.noHistory, "no-history", false, "Do not record the run in the history database")
	fl.StringVar(&runOpts.historyDB, "history-db", config.DefaultDBPath(), "History database path")
	fl.BoolVar(&runOpts.save, "checkpoint", false, "Save the result as a resumable checkpoint")
	fl.StringVar(&runOpts.dataDir, "data-dir", config.DefaultDataDir(), "Base directory for checkpoint storage")
	rootCmd.AddCommand(runCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// executeRun runs req locally and reports the result
func executeRun(cmd *cobra.Command, req engine.Request, name string, opts runOptions, resumedFrom string) error {
	if err := req.Validate(); err != nil {
		return err
	}
	problem, err := req.Problem()
	if err != nil {
		return err
	}
	initialScore := fit.Score(fit.Evaluate(problem.Start, problem.Text, problem.Fingers), problem.Weights)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	jobID := uuid.New().String()
	started := time.Now()

	var res engine.Message
	if opts.tui {
		res, err = runWithTUI(ctx, req, problem.Start, initialScore)
	} else {
		res, err = engine.New().Run(ctx, req, func(m engine.Message) {
			if m.Kind == opt.KindRestartDone {
				slog.Info("Restart finished", "restart", m.Restart, "score", m.BestMetric, "iterations", m.IterationsCompleted)
			}
		})
	}
	if errors.Is(err, engine.ErrCancelled) {
		fmt.Fprintln(os.Stderr, "Cancelled.")
		return err
	}
	if err != nil {
		return err
	}
	ended := time.Now()

	layoutScore := fit.Score(fit.Evaluate(res.BestLayout, req.Text, req.FingerAssignments), *req.Weights)

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	} else {
		printResult(out, name, problem.Start, req, res, initialScore, layoutScore, ended.Sub(started))
	}

	if opts.outPath != "" {
		data, err := config.MarshalKeyboard(name+"-best", res.BestLayout, req.FingerAssignments)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.outPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write keyboard file: %w", err)
		}
		slog.Info("Wrote keyboard file", "path", opts.outPath)
	}

	if opts.save {
		fs, err := store.NewFSStore(opts.dataDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		jobCfg := store.JobConfig{Name: name, Request: req}
		cp := store.NewCheckpoint(jobID, res.BestLayout, layoutScore, initialScore, res.IterationsCompleted, jobCfg)
		if err := fs.SaveCheckpoint(jobID, cp); err != nil {
			return err
		}
		fmt.Fprintf(out, "Checkpoint: %s\n", jobID)
	}

	if !opts.noHistory {
		if err := recordRun(ctx, opts.historyDB, store.NewRunRecord(jobID, name, req, res.Detail, initialScore, started, ended)); err != nil {
			slog.Warn("Failed to record run", "error", err)
		}
	}

	if resumedFrom != "" {
		slog.Info("Resumed run finished", "checkpoint", resumedFrom, "job_id", jobID)
	}
	return nil
}

// runWithTUI runs req in the background and shows its progress until it
// ends. Log output is muted while the view owns the terminal.
func runWithTUI(ctx context.Context, req engine.Request, start *layout.Layout, initialScore float64) (engine.Message, error) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return engine.Message{}, fmt.Errorf("--tui needs an interactive terminal")
	}

	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer slog.SetDefault(prev)

	h, err := engine.New().Start(ctx, req)
	if err != nil {
		return engine.Message{}, err
	}

	model := tui.NewModel(h, req, start, initialScore)
	if _, err := tea.NewProgram(model).Run(); err != nil {
		h.Cancel()
		h.Wait()
		return engine.Message{}, fmt.Errorf("terminal view failed: %w", err)
	}
	return model.Result()
}

func recordRun(ctx context.Context, path string, rec store.RunRecord) error {
	h, err := store.OpenHistory(path)
	if err != nil {
		return err
	}
	defer h.Close()

	id, err := h.InsertRun(ctx, rec)
	if err != nil {
		return err
	}
	slog.Debug("Run recorded", "run_id", id, "db", path)
	return nil
}

// printResult writes a human-readable summary of a finished run
func printResult(w io.Writer, name string, start *layout.Layout, req engine.Request, res engine.Message, initialScore, layoutScore float64, elapsed time.Duration) {
	fmt.Fprintf(w, "Layout: %s (%d keys)\n\n", name, res.BestLayout.Len())
	fmt.Fprintln(w, tui.RenderKeyboard(res.BestLayout, req.FingerAssignments, tui.ChangedKeys(start, res.BestLayout)))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Initial score:\t%.0f\n", initialScore)
	fmt.Fprintf(tw, "Best score:\t%.0f\t%s\n", res.BestMetric, percentChange(initialScore, res.BestMetric))
	if layoutScore != res.BestMetric {
		fmt.Fprintf(tw, "Returned layout scores:\t%.0f\n", layoutScore)
	}
	fmt.Fprintf(tw, "Iterations:\t%d\n", res.IterationsCompleted)
	fmt.Fprintf(tw, "Elapsed:\t%s\n", elapsed.Round(time.Millisecond))
	if d := res.Detail; d != nil {
		fmt.Fprintf(tw, "Evaluations:\t%d\n", d.Evaluations)
		if len(d.Restarts) > 1 {
			fmt.Fprintf(tw, "Restart scores:\tmean %.1f, std %.1f, min %.0f, max %.0f\n",
				d.Stats.Mean, d.Stats.StdDev, d.Stats.Min, d.Stats.Max)
		}
	}
	tw.Flush()

	if moves := layout.Diff(start, res.BestLayout); len(moves) > 0 {
		fmt.Fprintf(w, "\n%d keys moved\n", len(moves))
	}
}

func percentChange(initial, best float64) string {
	if initial <= 0 {
		return ""
	}
	return fmt.Sprintf("(%+.1f%%)", (best-initial)/initial*100)
}
