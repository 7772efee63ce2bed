package opt

import (
	"fmt"
	"math"

	"github.com/cwbudde/keyanneal/internal/fit"
)

// CoolingInterval is the number of iterations between cooling steps
const CoolingInterval = 1000

// minTemperature keeps exp(-delta/T) defined after long cooling
const minTemperature = 1e-12

// Params are the annealing hyperparameters
type Params struct {
	InitialTemperature float64               `json:"initialTemperature" toml:"initial-temperature"`
	CoolingRate        float64               `json:"coolingRate" toml:"cooling-rate"`
	Iterations         int                   `json:"iterations" toml:"iterations"`
	Restarts           int                   `json:"numRestarts" toml:"restarts"`
	Seed               int64                 `json:"seed" toml:"seed"`
	Workers            int                   `json:"workers,omitempty" toml:"workers"`
	Convergence        fit.ConvergenceConfig `json:"convergence" toml:"convergence"`
}

// DefaultParams returns the defaults of the interactive optimizer
func DefaultParams() Params {
	return Params{
		InitialTemperature: 100,
		CoolingRate:        0.999,
		Iterations:         100000,
		Restarts:           5,
		Seed:               42,
		Workers:            1,
		Convergence:        fit.DefaultConvergenceConfig(),
	}
}

// Validate rejects degenerate searches
func (p Params) Validate() error {
	if p.Iterations <= 0 {
		return &ParamError{Field: "iterations", Reason: fmt.Sprintf("must be positive, got %d", p.Iterations)}
	}
	if p.Restarts <= 0 {
		return &ParamError{Field: "numRestarts", Reason: fmt.Sprintf("must be positive, got %d", p.Restarts)}
	}
	if math.IsNaN(p.InitialTemperature) || math.IsInf(p.InitialTemperature, 0) || p.InitialTemperature <= 0 {
		return &ParamError{Field: "initialTemperature", Reason: fmt.Sprintf("must be positive and finite, got %v", p.InitialTemperature)}
	}
	if math.IsNaN(p.CoolingRate) || p.CoolingRate <= 0 || p.CoolingRate > 1 {
		return &ParamError{Field: "coolingRate", Reason: fmt.Sprintf("must be in (0,1], got %v", p.CoolingRate)}
	}
	if p.Workers < 0 {
		return &ParamError{Field: "workers", Reason: fmt.Sprintf("cannot be negative, got %d", p.Workers)}
	}
	if p.Convergence.Enabled {
		if p.Convergence.Patience <= 0 {
			return &ParamError{Field: "convergence.patience", Reason: "must be positive when enabled"}
		}
		if p.Convergence.Threshold < 0 || math.IsNaN(p.Convergence.Threshold) {
			return &ParamError{Field: "convergence.threshold", Reason: "cannot be negative"}
		}
	}
	return nil
}

// ParamError reports an invalid hyperparameter
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return "invalid parameter: " + e.Field + " " + e.Reason
}
