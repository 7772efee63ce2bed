package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwbudde/keyanneal/internal/config"
	"github.com/cwbudde/keyanneal/internal/engine"
	"github.com/cwbudde/keyanneal/internal/server"
	"github.com/cwbudde/keyanneal/internal/store"
)

var (
	resumeOpts       runOptions
	resumeIterations int
	resumeRestarts   int
	resumeSeed       int64
	resumeServer     string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume from checkpoint",
	Long: `Continues the search from a checkpoint's best layout with the saved text,
weights and hyperparameters. The result is saved as a new checkpoint.
With --server the checkpoint is resumed as a job on a running server.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	fl := resumeCmd.Flags()
	fl.IntVar(&resumeIterations, "iterations", 0, "Override iterations per restart")
	fl.IntVar(&resumeRestarts, "restarts", 0, "Override the number of restarts")
	fl.Int64Var(&resumeSeed, "seed", 0, "Override the random seed")
	fl.StringVar(&resumeServer, "server", "", "Resume on this server instead of locally")
	fl.StringVar(&resumeOpts.dataDir, "data-dir", config.DefaultDataDir(), "Base directory for checkpoint storage")
	fl.BoolVar(&resumeOpts.tui, "tui", false, "Show live progress in the terminal")
	fl.BoolVar(&resumeOpts.jsonOut, "json", false, "Print the result message as JSON")
	fl.StringVarP(&resumeOpts.outPath, "out", "o", "", "Write the resulting layout as a keyboard file (YAML)")
	fl.BoolVar(&resumeOpts.noHistory, "no-history", false, "Do not record the run in the history database")
	fl.StringVar(&resumeOpts.historyDB, "history-db", config.DefaultDBPath(), "History database path")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	checkpointID := args[0]
	if resumeServer != "" {
		return resumeRemote(cmd, checkpointID)
	}

	checkpointStore, err := store.NewFSStore(resumeOpts.dataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	cp, err := checkpointStore.LoadCheckpoint(checkpointID)
	if err != nil {
		return err
	}

	cfg := server.ResumeConfig(cp)
	applyResumeOverrides(cmd, &cfg.Request)
	if err := cp.IsCompatible(cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Resuming %s from score %.0f\n\n", shortID(cp.JobID), cp.BestScore)

	opts := resumeOpts
	opts.save = true
	return executeRun(cmd, cfg.Request, cfg.Name, opts, cp.JobID)
}

func applyResumeOverrides(cmd *cobra.Command, req *engine.Request) {
	changed := cmd.Flags().Changed
	if changed("iterations") {
		req.Iterations = resumeIterations
	}
	if changed("restarts") {
		req.NumRestarts = resumeRestarts
	}
	if changed("seed") {
		req.Seed = resumeSeed
	}
}

// resumeRemote asks a server to resume the checkpoint as a new job
func resumeRemote(cmd *cobra.Command, checkpointID string) error {
	body := map[string]any{}
	changed := cmd.Flags().Changed
	if changed("iterations") {
		body["iterations"] = resumeIterations
	}
	if changed("restarts") {
		body["numRestarts"] = resumeRestarts
	}
	if changed("seed") {
		body["seed"] = resumeSeed
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := strings.TrimSuffix(resumeServer, "/") + "/api/v1/checkpoints/" + checkpointID + "/resume"
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var job server.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Started job %s (resumed from %s)\n", job.ID, checkpointID)
	return nil
}
