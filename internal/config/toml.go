// Package config loads run settings from TOML and keyboard definitions
// from YAML.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/cwbudde/keyanneal/internal/engine"
	"github.com/cwbudde/keyanneal/internal/fit"
)

// FileConfig represents the TOML configuration file.
// Pointer fields distinguish "not set" from zero values so that only
// present settings override defaults.
type FileConfig struct {
	Anneal  AnnealConfig  `toml:"anneal"`
	Weights WeightsConfig `toml:"weights"`
	Run     RunConfig     `toml:"run"`
	Server  ServerConfig  `toml:"server"`
}

// AnnealConfig maps search hyperparameters.
type AnnealConfig struct {
	InitialTemperature *float64               `toml:"initial-temperature"`
	CoolingRate        *float64               `toml:"cooling-rate"`
	Iterations         *int                   `toml:"iterations"`
	Restarts           *int                   `toml:"restarts"`
	Seed               *int64                 `toml:"seed"`
	Workers            *int                   `toml:"workers"`
	Convergence        *fit.ConvergenceConfig `toml:"convergence"`
}

// WeightsConfig maps score weights.
type WeightsConfig struct {
	Distance    *float64 `toml:"distance"`
	HandBalance *float64 `toml:"hand-balance"`
	SameFinger  *float64 `toml:"same-finger"`
}

// RunConfig maps inputs of a run.
type RunConfig struct {
	Keyboard       *string `toml:"keyboard"`
	TextFile       *string `toml:"text-file"`
	Strategy       *string `toml:"strategy"`
	PopulationSize *int    `toml:"population-size"`
}

// ServerConfig maps job server settings.
type ServerConfig struct {
	Addr               *string `toml:"addr"`
	DataDir            *string `toml:"data-dir"`
	HistoryDB          *string `toml:"history-db"`
	CheckpointInterval *int    `toml:"checkpoint-interval"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(string(data))
}

// ParseConfig decodes a TOML config from a string. Unknown keys are rejected.
func ParseConfig(data string) (FileConfig, error) {
	var cfg FileConfig
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}

// Apply overrides request fields with the values set in the file.
func (c FileConfig) Apply(req *engine.Request) {
	a := c.Anneal
	if a.InitialTemperature != nil {
		req.InitialTemperature = *a.InitialTemperature
	}
	if a.CoolingRate != nil {
		req.CoolingRate = *a.CoolingRate
	}
	if a.Iterations != nil {
		req.Iterations = *a.Iterations
	}
	if a.Restarts != nil {
		req.NumRestarts = *a.Restarts
	}
	if a.Seed != nil {
		req.Seed = *a.Seed
	}
	if a.Workers != nil {
		req.Workers = *a.Workers
	}
	if a.Convergence != nil {
		conv := *a.Convergence
		req.Convergence = &conv
	}

	w := c.Weights
	if w.Distance != nil || w.HandBalance != nil || w.SameFinger != nil {
		weights := fit.DefaultWeights()
		if req.Weights != nil {
			weights = *req.Weights
		}
		if w.Distance != nil {
			weights.Distance = *w.Distance
		}
		if w.HandBalance != nil {
			weights.HandBalance = *w.HandBalance
		}
		if w.SameFinger != nil {
			weights.SameFinger = *w.SameFinger
		}
		req.Weights = &weights
	}

	if c.Run.Strategy != nil {
		req.Strategy = engine.Strategy(*c.Run.Strategy)
	}
	if c.Run.PopulationSize != nil {
		req.PopulationSize = *c.Run.PopulationSize
	}
}

// String returns v or def when v is unset.
func String(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

// Int returns v or def when v is unset.
func Int(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
