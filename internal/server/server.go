package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cwbudde/keyanneal/internal/config"
	"github.com/cwbudde/keyanneal/internal/engine"
	"github.com/cwbudde/keyanneal/internal/fit"
	"github.com/cwbudde/keyanneal/internal/logging"
	"github.com/cwbudde/keyanneal/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	env        workerEnv
	addr       string
	server     *http.Server

	// checkpointInterval is used for jobs that do not set their own
	checkpointInterval int
}

// Option configures a Server
type Option func(*Server)

// WithStore enables checkpoints, traces and resuming
func WithStore(fs *store.FSStore) Option {
	return func(s *Server) { s.env.store = fs }
}

// WithHistory records finished runs
func WithHistory(h *store.History) Option {
	return func(s *Server) { s.env.history = h }
}

// WithCheckpointInterval sets the default checkpoint interval in seconds
func WithCheckpointInterval(seconds int) Option {
	return func(s *Server) { s.checkpointInterval = seconds }
}

// WithEngine replaces the default engine
func WithEngine(e *engine.Engine) Option {
	return func(s *Server) { s.env.engine = e }
}

// NewServer creates a new HTTP server
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		jobManager: NewJobManager(),
		env:        workerEnv{engine: engine.New()},
		addr:       addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/", s.handleIndex)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/evaluate", s.handleEvaluate)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Get("/", s.handleListJobs)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJobStatus)
				r.Get("/status", s.handleGetJobStatus)
				r.Delete("/", s.handleCancelJob)
				r.Get("/stream", s.handleJobStream)
				r.Get("/layout", s.handleGetLayout)
				r.Get("/layout.yaml", s.handleGetLayoutYAML)
				r.Get("/trace", s.handleGetTrace)
			})
		})

		r.Route("/checkpoints", func(r chi.Router) {
			r.Get("/", s.handleListCheckpoints)
			r.Delete("/{id}", s.handleDeleteCheckpoint)
			r.Post("/{id}/resume", s.handleResumeCheckpoint)
		})

		r.Get("/history", s.handleListHistory)
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown stops running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	for _, job := range s.jobManager.GetRunningJobs() {
		slog.Info("Cancelling job", "job_id", job.ID, "name", job.Config.Name, "iterations", job.Iterations)
	}
	s.jobManager.CancelAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// startJob registers a job and runs it in the background
func (s *Server) startJob(config JobConfig, resumedFrom string) *Job {
	if config.CheckpointInterval == 0 {
		config.CheckpointInterval = s.checkpointInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := s.jobManager.CreateJob(config, cancel)
	if resumedFrom != "" {
		s.jobManager.UpdateJob(job.ID, func(j *Job) { j.ResumedFrom = resumedFrom })
		job.ResumedFrom = resumedFrom
	}

	go func() {
		defer cancel()
		runJob(ctx, s.jobManager, s.env, job.ID)
	}()
	return job
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var config JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if config.CheckpointInterval < 0 {
		http.Error(w, "checkpointInterval cannot be negative", http.StatusBadRequest)
		return
	}

	config.Request = config.Request.WithDefaults()
	if err := config.Request.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	job := s.startJob(config, "")
	logging.FromContext(r.Context()).Info("Job created", "job_id", job.ID, "name", config.Name)
	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// statusResponse is a job plus derived throughput figures
type statusResponse struct {
	*Job
	Elapsed float64 `json:"elapsed"`
	IPS     float64 `json:"ips"`
	Layout  string  `json:"layout,omitempty"`
}

// handleGetJobStatus handles GET /api/v1/jobs/{id}/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobManager.GetJob(chi.URLParam(r, "id"))
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	resp := statusResponse{
		Job:     job,
		Elapsed: elapsed.Seconds(),
		IPS:     rate(job.Iterations, elapsed),
	}
	if job.BestLayout != nil {
		resp.Layout = job.BestLayout.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancelJob handles DELETE /api/v1/jobs/{id}
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	err := s.jobManager.CancelJob(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, ErrJobNotFound):
		http.Error(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, ErrJobFinished):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

// handleGetLayout handles GET /api/v1/jobs/{id}/layout as a plain text grid
func (s *Server) handleGetLayout(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobManager.GetJob(chi.URLParam(r, "id"))
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.BestLayout == nil {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprintln(w, strings.Join(job.BestLayout.Grid(), "\n"))
}

// handleGetLayoutYAML handles GET /api/v1/jobs/{id}/layout.yaml as a
// keyboard file that run --keyboard accepts
func (s *Server) handleGetLayoutYAML(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobManager.GetJob(chi.URLParam(r, "id"))
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.BestLayout == nil {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}

	name := job.Config.Name
	if name == "" {
		name = job.ID
	}
	data, err := config.MarshalKeyboard(name+"-best", job.BestLayout, job.Config.Request.FingerAssignments)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode layout: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

// handleGetTrace handles GET /api/v1/jobs/{id}/trace
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	if s.env.store == nil {
		http.Error(w, "Traces are disabled", http.StatusNotFound)
		return
	}
	jobID := chi.URLParam(r, "id")
	entries, err := store.ReadTrace(s.env.store.BaseDir(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Trace not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// evaluateResponse is the score of a layout without searching
type evaluateResponse struct {
	Metrics   fit.Metrics `json:"metrics"`
	Score     float64     `json:"score"`
	Imbalance int         `json:"handImbalance"`
	Layout    string      `json:"layout"`
}

// handleEvaluate handles POST /api/v1/evaluate
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	problem, err := req.WithDefaults().Problem()
	if err != nil {
		writeValidationError(w, err)
		return
	}

	m := fit.Evaluate(problem.Start, problem.Text, problem.Fingers)
	writeJSON(w, http.StatusOK, evaluateResponse{
		Metrics:   m,
		Score:     fit.Score(m, problem.Weights),
		Imbalance: m.HandImbalance(),
		Layout:    problem.Start.String(),
	})
}

// handleListCheckpoints handles GET /api/v1/checkpoints
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.env.store == nil {
		writeJSON(w, http.StatusOK, []store.CheckpointInfo{})
		return
	}
	infos, err := s.env.store.ListCheckpoints()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleDeleteCheckpoint handles DELETE /api/v1/checkpoints/{id}
func (s *Server) handleDeleteCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.env.store == nil {
		http.Error(w, "Checkpoints are disabled", http.StatusNotFound)
		return
	}
	jobID := chi.URLParam(r, "id")
	if job, exists := s.jobManager.GetJob(jobID); exists && !job.State.Terminal() {
		http.Error(w, "Job is still running", http.StatusConflict)
		return
	}

	err := s.env.store.DeleteCheckpoint(jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Checkpoint not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resumeRequest optionally overrides the search budget of a resumed job
type resumeRequest struct {
	Iterations  int    `json:"iterations,omitempty"`
	NumRestarts int    `json:"numRestarts,omitempty"`
	Seed        *int64 `json:"seed,omitempty"`
}

// handleResumeCheckpoint handles POST /api/v1/checkpoints/{id}/resume
func (s *Server) handleResumeCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.env.store == nil {
		http.Error(w, "Checkpoints are disabled", http.StatusNotFound)
		return
	}

	var overrides resumeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
			http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
			return
		}
	}

	checkpointID := chi.URLParam(r, "id")
	cp, err := s.env.store.LoadCheckpoint(checkpointID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Checkpoint not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	config := ResumeConfig(cp)
	if overrides.Iterations > 0 {
		config.Request.Iterations = overrides.Iterations
	}
	if overrides.NumRestarts > 0 {
		config.Request.NumRestarts = overrides.NumRestarts
	}
	if overrides.Seed != nil {
		config.Request.Seed = *overrides.Seed
	}
	if err := config.Request.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	job := s.startJob(config, cp.JobID)
	logging.FromContext(r.Context()).Info("Resuming from checkpoint", "checkpoint", cp.JobID, "job_id", job.ID, "best_score", cp.BestScore)
	writeJSON(w, http.StatusCreated, job)
}

// ResumeConfig returns the job configuration that continues a checkpoint:
// the saved request with the best layout as the new starting layout
func ResumeConfig(cp *store.Checkpoint) JobConfig {
	config := cp.Config
	config.Request.Layout = cp.BestLayout.Map()
	config.Request = config.Request.WithDefaults()
	return config
}

// handleListHistory handles GET /api/v1/history
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.env.history == nil {
		writeJSON(w, http.StatusOK, []store.RunRecord{})
		return
	}

	q := r.URL.Query()
	filter := store.HistoryFilter{
		Name:       q.Get("name"),
		Strategy:   q.Get("strategy"),
		TextDigest: q.Get("text"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	runs, err := s.env.history.ListRuns(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware attaches a request-scoped logger to the context and
// logs each request once it has been served
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := slog.Default().With("method", r.Method, "path", r.URL.Path)
		if id := middleware.GetReqID(r.Context()); id != "" {
			logger = logger.With("request_id", id)
		}
		next.ServeHTTP(w, r.WithContext(logging.WithLogger(r.Context(), logger)))
		logger.Debug("HTTP request", "duration", time.Since(start))
	})
}
