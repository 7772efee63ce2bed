package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/keyanneal/internal/config"
	"github.com/cwbudde/keyanneal/internal/server"
	"github.com/cwbudde/keyanneal/internal/store"
)

var (
	serveAddr               string
	serveDataDir            string
	serveHistoryDB          string
	serveCheckpointInterval int
	serveNoPersist          bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the HTTP server that runs optimization jobs in the background.
Jobs are checkpointed under --data-dir and finished runs are recorded in the
history database.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	fl := serveCmd.Flags()
	fl.StringVar(&serveAddr, "addr", ":8080", "Listen address")
	fl.StringVar(&serveDataDir, "data-dir", config.DefaultDataDir(), "Base directory for checkpoints and traces")
	fl.StringVar(&serveHistoryDB, "history-db", config.DefaultDBPath(), "History database path")
	fl.IntVar(&serveCheckpointInterval, "checkpoint-interval", 10, "Seconds between periodic checkpoints (0 = only at the end)")
	fl.BoolVar(&serveNoPersist, "in-memory", false, "Disable checkpoints, traces and history")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	changed := cmd.Flags().Changed
	addr := serveAddr
	if !changed("addr") {
		addr = config.String(fileCfg.Server.Addr, serveAddr)
	}
	dataDir := serveDataDir
	if !changed("data-dir") {
		dataDir = config.String(fileCfg.Server.DataDir, serveDataDir)
	}
	historyDB := serveHistoryDB
	if !changed("history-db") {
		historyDB = config.String(fileCfg.Server.HistoryDB, serveHistoryDB)
	}
	interval := serveCheckpointInterval
	if !changed("checkpoint-interval") {
		interval = config.Int(fileCfg.Server.CheckpointInterval, serveCheckpointInterval)
	}
	if interval < 0 {
		return fmt.Errorf("--checkpoint-interval must be non-negative")
	}

	opts := []server.Option{server.WithCheckpointInterval(interval)}
	if !serveNoPersist {
		fs, err := store.NewFSStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		history, err := store.OpenHistory(historyDB)
		if err != nil {
			return err
		}
		defer history.Close()
		opts = append(opts, server.WithStore(fs), server.WithHistory(history))
		slog.Info("Persistence enabled", "data_dir", dataDir, "history_db", historyDB)
	}

	srv := server.NewServer(addr, opts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("Server stopped")
	return nil
}
