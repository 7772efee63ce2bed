package engine

import (
	"errors"

	"github.com/cwbudde/keyanneal/internal/fit"
	"github.com/cwbudde/keyanneal/internal/layout"
	"github.com/cwbudde/keyanneal/internal/opt"
)

// Strategy selects the search algorithm
type Strategy string

const (
	StrategyAnneal Strategy = "anneal"
	StrategyMayfly Strategy = "mayfly"
)

// DefaultPopulationSize is the Mayfly population used when none is given
const DefaultPopulationSize = 30

// Request is everything needed to run one optimization.
// JSON field names follow the host protocol of the interactive optimizer.
type Request struct {
	Layout             map[string]layout.Position `json:"layout"`
	Text               string                     `json:"text"`
	FingerAssignments  layout.FingerAssignment    `json:"fingerAssignments"`
	InitialTemperature float64                    `json:"initialTemperature"`
	CoolingRate        float64                    `json:"coolingRate"`
	Iterations         int                        `json:"iterations"`
	NumRestarts        int                        `json:"numRestarts"`
	Weights            *fit.Weights               `json:"weights"`

	Seed           int64                  `json:"seed"`
	Workers        int                    `json:"workers,omitempty"`
	Strategy       Strategy               `json:"strategy,omitempty"`
	PopulationSize int                    `json:"populationSize,omitempty"`
	Convergence    *fit.ConvergenceConfig `json:"convergence,omitempty"`
}

// DefaultRequest returns a request for the QWERTY layout with the default
// finger table, hyperparameters and weights. Text is left empty.
func DefaultRequest() Request {
	params := opt.DefaultParams()
	weights := fit.DefaultWeights()
	return Request{
		Layout:             layout.QWERTY().Map(),
		FingerAssignments:  layout.DefaultFingers(),
		InitialTemperature: params.InitialTemperature,
		CoolingRate:        params.CoolingRate,
		Iterations:         params.Iterations,
		NumRestarts:        params.Restarts,
		Weights:            &weights,
		Seed:               params.Seed,
		Workers:            params.Workers,
		Strategy:           StrategyAnneal,
	}
}

// WithDefaults fills unset fields (nil maps, zero counts and rates, missing
// weights) from DefaultRequest. Negative or out-of-range values are kept so
// that validation still rejects them.
func (r Request) WithDefaults() Request {
	def := DefaultRequest()
	if r.Layout == nil {
		r.Layout = def.Layout
	}
	if r.FingerAssignments == nil {
		r.FingerAssignments = def.FingerAssignments
	}
	if r.InitialTemperature == 0 {
		r.InitialTemperature = def.InitialTemperature
	}
	if r.CoolingRate == 0 {
		r.CoolingRate = def.CoolingRate
	}
	if r.Iterations == 0 {
		r.Iterations = def.Iterations
	}
	if r.NumRestarts == 0 {
		r.NumRestarts = def.NumRestarts
	}
	if r.Weights == nil {
		r.Weights = def.Weights
	}
	if r.Strategy == "" {
		r.Strategy = def.Strategy
	}
	return r
}

// Params returns the annealing hyperparameters of the request
func (r Request) Params() opt.Params {
	p := opt.Params{
		InitialTemperature: r.InitialTemperature,
		CoolingRate:        r.CoolingRate,
		Iterations:         r.Iterations,
		Restarts:           r.NumRestarts,
		Seed:               r.Seed,
		Workers:            r.Workers,
		Convergence:        fit.DefaultConvergenceConfig(),
	}
	if r.Convergence != nil {
		p.Convergence = *r.Convergence
	}
	return p
}

// Problem validates the layout, finger table and weights and returns the
// search problem they describe
func (r Request) Problem() (opt.Problem, error) {
	start, err := layout.New(r.Layout)
	if err != nil {
		return opt.Problem{}, &ValidationError{Field: "layout", Reason: reasonOf(err), Err: err}
	}
	if err := r.FingerAssignments.Validate(); err != nil {
		return opt.Problem{}, &ValidationError{Field: "fingerAssignments", Reason: reasonOf(err), Err: err}
	}
	if r.Weights == nil {
		return opt.Problem{}, &ValidationError{Field: "weights", Reason: "are required"}
	}
	if err := r.Weights.Validate(); err != nil {
		return opt.Problem{}, &ValidationError{Field: "weights", Reason: err.Error(), Err: err}
	}

	return opt.Problem{
		Start:   start,
		Text:    r.Text,
		Fingers: r.FingerAssignments,
		Weights: *r.Weights,
	}, nil
}

// Optimizer validates the hyperparameters and builds the selected strategy
func (r Request) Optimizer() (opt.Optimizer, error) {
	params := r.Params()
	if err := params.Validate(); err != nil {
		return nil, paramError(err)
	}

	switch r.Strategy {
	case "", StrategyAnneal:
		return opt.NewAnnealer(params), nil
	case StrategyMayfly:
		pop := r.PopulationSize
		if pop == 0 {
			pop = DefaultPopulationSize
		}
		m := opt.NewMayfly(r.Iterations, pop, r.NumRestarts, r.Seed)
		if err := m.Validate(); err != nil {
			return nil, paramError(err)
		}
		return m, nil
	default:
		return nil, &ValidationError{Field: "strategy", Reason: "unknown strategy " + string(r.Strategy)}
	}
}

// Validate checks the whole request without running it
func (r Request) Validate() error {
	if _, err := r.Problem(); err != nil {
		return err
	}
	_, err := r.Optimizer()
	return err
}

func paramError(err error) error {
	var pe *opt.ParamError
	if errors.As(err, &pe) {
		return &ValidationError{Field: pe.Field, Reason: pe.Reason, Err: err}
	}
	return &ValidationError{Field: "params", Reason: err.Error(), Err: err}
}

func reasonOf(err error) string {
	var le *layout.Error
	if errors.As(err, &le) {
		if le.Key != "" {
			return "key " + le.Key + ": " + le.Reason
		}
		return le.Reason
	}
	return err.Error()
}
