package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwbudde/keyanneal/internal/layout"
	"github.com/cwbudde/keyanneal/internal/opt"
)

// MessageType distinguishes progress from the final result
type MessageType string

const (
	TypeProgress MessageType = "progress"
	TypeResult   MessageType = "result"
)

// Message is what the engine hands back to its host.
// Progress messages carry the best score known to the emitting restart;
// across parallel restarts no order is guaranteed.
//
// IterationsCompleted is the loop index j on improvement messages and the
// run-level counter on every other kind and on the result.
type Message struct {
	Type                MessageType    `json:"type"`
	BestLayout          *layout.Layout `json:"bestLayout"`
	BestMetric          float64        `json:"bestMetric"`
	IterationsCompleted int            `json:"iterationsCompleted"`

	Kind        opt.ProgressKind `json:"kind,omitempty"`
	Restart     int              `json:"restart"`
	Iteration   int              `json:"iteration"`
	Temperature float64          `json:"temperature,omitempty"`

	// Detail is set on result messages only
	Detail *opt.Result `json:"detail,omitempty"`
}

func progressMessage(p opt.Progress) Message {
	m := Message{
		Type:                TypeProgress,
		BestLayout:          p.Layout,
		BestMetric:          p.Score,
		IterationsCompleted: p.IterationsCompleted,
		Kind:                p.Kind,
		Restart:             p.Restart,
		Iteration:           p.Iteration,
		Temperature:         p.Temperature,
	}
	if p.Kind == opt.KindImprovement {
		m.IterationsCompleted = p.Iteration
	}
	return m
}

func resultMessage(r *opt.Result) Message {
	return Message{
		Type:                TypeResult,
		BestLayout:          r.Layout,
		BestMetric:          r.Score,
		IterationsCompleted: r.Iterations,
		Detail:              r,
	}
}

// DefaultProgressBuffer is the capacity of a handle's progress channel
const DefaultProgressBuffer = 256

// Engine runs optimization requests
type Engine struct {
	// ProgressBuffer is the capacity of Handle.Progress. Messages that do not
	// fit are dropped rather than stalling the search.
	ProgressBuffer int
}

// New creates an engine with default settings
func New() *Engine {
	return &Engine{ProgressBuffer: DefaultProgressBuffer}
}

// Run executes req on the calling goroutine and reports progress to fn.
// fn may be nil; with Workers > 1 it is called from several goroutines.
func (e *Engine) Run(ctx context.Context, req Request, fn func(Message)) (Message, error) {
	problem, err := req.Problem()
	if err != nil {
		return Message{}, err
	}
	optimizer, err := req.Optimizer()
	if err != nil {
		return Message{}, err
	}
	return run(ctx, req, problem, optimizer, fn)
}

func run(ctx context.Context, req Request, problem opt.Problem, optimizer opt.Optimizer, fn func(Message)) (Message, error) {
	var report opt.ProgressFunc
	if fn != nil {
		report = func(p opt.Progress) { fn(progressMessage(p)) }
	}

	start := time.Now()
	slog.Info("Optimization started",
		"strategy", strategyName(req.Strategy),
		"keys", problem.Start.Len(),
		"iterations", req.Iterations,
		"restarts", req.NumRestarts,
		"seed", req.Seed,
	)

	result, err := optimizer.Run(ctx, problem, report)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			slog.Info("Optimization cancelled", "elapsed", time.Since(start))
			return Message{}, ErrCancelled
		}
		return Message{}, err
	}

	slog.Info("Optimization completed",
		"score", result.Score,
		"iterations", result.Iterations,
		"evaluations", result.Evaluations,
		"elapsed", time.Since(start),
	)
	return resultMessage(result), nil
}

// Start validates req and runs it on a background goroutine.
// Validation errors are returned immediately and no goroutine is started.
func (e *Engine) Start(ctx context.Context, req Request) (*Handle, error) {
	problem, err := req.Problem()
	if err != nil {
		return nil, err
	}
	optimizer, err := req.Optimizer()
	if err != nil {
		return nil, err
	}

	buffer := e.ProgressBuffer
	if buffer < 0 {
		buffer = 0
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		progress: make(chan Message, buffer),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	go func() {
		defer cancel()
		defer close(h.done)

		res, err := run(runCtx, req, problem, optimizer, h.publish)

		h.mu.Lock()
		h.closed = true
		close(h.progress)
		h.mu.Unlock()

		h.result, h.err = res, err
	}()

	return h, nil
}

// Handle tracks a run started with Engine.Start
type Handle struct {
	progress chan Message
	done     chan struct{}
	cancel   context.CancelFunc

	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64

	result Message
	err    error
}

// publish delivers a message without blocking the search
func (h *Handle) publish(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.progress <- m:
	default:
		h.dropped.Add(1)
	}
}

// Progress returns the progress channel. It is closed when the run ends.
func (h *Handle) Progress() <-chan Message {
	return h.progress
}

// Done is closed when the run ends
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel stops the run. Work in flight is abandoned.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the run ends and returns the result message.
// A cancelled run returns ErrCancelled.
func (h *Handle) Wait() (Message, error) {
	<-h.done
	return h.result, h.err
}

// Dropped returns the number of progress messages discarded because the
// channel was full
func (h *Handle) Dropped() int64 {
	return h.dropped.Load()
}

func strategyName(s Strategy) string {
	if s == "" {
		return string(StrategyAnneal)
	}
	return string(s)
}
