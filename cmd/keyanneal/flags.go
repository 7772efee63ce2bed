package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwbudde/keyanneal/internal/config"
	"github.com/cwbudde/keyanneal/internal/engine"
	"github.com/cwbudde/keyanneal/internal/fit"
)

// requestFlags are the flags shared by commands that build an engine request.
// Precedence is defaults, then the config file, then flags that were set.
type requestFlags struct {
	keyboard string
	text     string
	textFile string

	temperature float64
	coolingRate float64
	iterations  int
	restarts    int
	seed        int64
	workers     int
	strategy    string
	popSize     int

	distance    float64
	handBalance float64
	sameFinger  float64
}

// register adds the flags to cmd. search controls whether the search
// hyperparameters are offered.
func (f *requestFlags) register(cmd *cobra.Command, search bool) {
	def := engine.DefaultRequest()
	w := fit.DefaultWeights()

	fl := cmd.Flags()
	fl.StringVar(&f.keyboard, "keyboard", "", "Keyboard file (YAML) with the starting layout (default QWERTY)")
	fl.StringVar(&f.text, "text", "", "Reference text")
	fl.StringVar(&f.textFile, "text-file", "", "File with the reference text")
	fl.Float64Var(&f.distance, "distance-weight", w.Distance, "Weight of finger travel distance")
	fl.Float64Var(&f.handBalance, "balance-weight", w.HandBalance, "Weight of hand imbalance")
	fl.Float64Var(&f.sameFinger, "same-finger-weight", w.SameFinger, "Weight of same-finger strokes")

	if !search {
		return
	}
	fl.Float64Var(&f.temperature, "temperature", def.InitialTemperature, "Initial temperature")
	fl.Float64Var(&f.coolingRate, "cooling-rate", def.CoolingRate, "Cooling factor applied every 1000 iterations")
	fl.IntVar(&f.iterations, "iterations", def.Iterations, "Iterations per restart")
	fl.IntVar(&f.restarts, "restarts", def.NumRestarts, "Number of independent restarts")
	fl.Int64Var(&f.seed, "seed", def.Seed, "Random seed (restart i uses seed+i)")
	fl.IntVar(&f.workers, "workers", def.Workers, "Restarts run in parallel")
	fl.StringVar(&f.strategy, "strategy", string(def.Strategy), "Search strategy: anneal, mayfly")
	fl.IntVar(&f.popSize, "pop", engine.DefaultPopulationSize, "Population size (mayfly only)")
}

// build assembles the request. The returned name labels the run.
func (f *requestFlags) build(cmd *cobra.Command) (engine.Request, string, error) {
	req := engine.DefaultRequest()
	fileCfg.Apply(&req)
	name := "qwerty"

	keyboardPath := f.keyboard
	if !cmd.Flags().Changed("keyboard") {
		keyboardPath = config.String(fileCfg.Run.Keyboard, "")
	}
	if keyboardPath != "" {
		kb, err := config.LoadKeyboard(keyboardPath)
		if err != nil {
			return engine.Request{}, "", err
		}
		req.Layout = kb.Positions()
		if fingers := kb.FingerAssignment(); len(fingers) > 0 {
			req.FingerAssignments = fingers
		}
		name = kb.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(keyboardPath), filepath.Ext(keyboardPath))
		}
	}

	text, err := f.readText(cmd)
	if err != nil {
		return engine.Request{}, "", err
	}
	req.Text = text

	changed := cmd.Flags().Changed
	if changed("distance-weight") || changed("balance-weight") || changed("same-finger-weight") {
		weights := *req.Weights
		if changed("distance-weight") {
			weights.Distance = f.distance
		}
		if changed("balance-weight") {
			weights.HandBalance = f.handBalance
		}
		if changed("same-finger-weight") {
			weights.SameFinger = f.sameFinger
		}
		req.Weights = &weights
	}

	if changed("temperature") {
		req.InitialTemperature = f.temperature
	}
	if changed("cooling-rate") {
		req.CoolingRate = f.coolingRate
	}
	if changed("iterations") {
		req.Iterations = f.iterations
	}
	if changed("restarts") {
		req.NumRestarts = f.restarts
	}
	if changed("seed") {
		req.Seed = f.seed
	}
	if changed("workers") {
		req.Workers = f.workers
	}
	if changed("strategy") {
		req.Strategy = engine.Strategy(f.strategy)
	}
	if changed("pop") {
		req.PopulationSize = f.popSize
	}

	return req, name, nil
}

// readText returns the reference text from --text, --text-file or the
// config file, in that order
func (f *requestFlags) readText(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Changed("text") {
		return f.text, nil
	}
	path := f.textFile
	if !cmd.Flags().Changed("text-file") {
		path = config.String(fileCfg.Run.TextFile, "")
	}
	if path == "" {
		return "", fmt.Errorf("no reference text: use --text or --text-file")
	}
	return readTextFile(path)
}

func readTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read text file: %w", err)
	}
	return string(data), nil
}
