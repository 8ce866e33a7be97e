// Package server exposes the optimizer as a thin HTTP surface: start a run,
// poll its status, cancel it. The numeric core stays an in-process library;
// this package only adapts it to the wire.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/idossha/TI-Toolbox-sub001/internal/config"
	"github.com/idossha/TI-Toolbox-sub001/internal/leadfield"
	"github.com/idossha/TI-Toolbox-sub001/internal/logging"
	"github.com/idossha/TI-Toolbox-sub001/internal/metrics"
	"github.com/idossha/TI-Toolbox-sub001/internal/montage"
	"github.com/idossha/TI-Toolbox-sub001/internal/pareto"
	"github.com/idossha/TI-Toolbox-sub001/internal/results"
	"github.com/idossha/TI-Toolbox-sub001/internal/search"
	"github.com/idossha/TI-Toolbox-sub001/internal/target"
)

// Logger is the logging interface the server depends on.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// jobState tracks one optimization job. Access is guarded by the server's
// jobs mutex.
type jobState struct {
	ID          string
	Kind        string // "single" or "pareto"
	Status      string // "pending", "running", "completed", "failed", "cancelled"
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Cancel      context.CancelFunc

	Run       *search.Run
	Solutions []pareto.Solution
	Stats     *pareto.Stats
	Err       string
}

// Server owns the job table and the shared read-only leadfield.
type Server struct {
	cfg     *config.Config
	logger  Logger
	model   *leadfield.Model
	presets target.Presets
	labels  []string
	store   *results.Store
	metrics *metrics.Metrics

	jobsMu sync.RWMutex
	jobs   map[string]*jobState
}

// Options carries the server's collaborators. Store, Presets, Labels, and
// Metrics may be nil/empty.
type Options struct {
	Model   *leadfield.Model
	Presets target.Presets
	Labels  []string
	Store   *results.Store
	Metrics *metrics.Metrics
}

// NewServer creates a server instance.
func NewServer(cfg *config.Config, logger Logger, opts Options) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		model:   opts.Model,
		presets: opts.Presets,
		labels:  opts.Labels,
		store:   opts.Store,
		metrics: opts.Metrics,
		jobs:    make(map[string]*jobState),
	}
}

// RegisterRoutes mounts the API.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Post("/pareto", s.handlePareto)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/runs", s.handleListRuns)
	})
}

// RecoveryMiddleware converts handler panics into 500s with a logged stack.
func RecoveryMiddleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Recovered from panic", map[string]interface{}{
						"error":  fmt.Sprintf("%v", rec),
						"method": r.Method,
						"path":   r.URL.Path,
					})
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// targetRequest is the wire form of a target: a named preset or an explicit
// coordinate, plus the sphere radius.
type targetRequest struct {
	Preset   string      `json:"preset,omitempty"`
	Coord    *[3]float64 `json:"coord,omitempty"`
	RadiusMM float64     `json:"radius_mm"`
}

func (s *Server) resolveTarget(req targetRequest) (target.Spec, error) {
	spec := target.Spec{Radius: req.RadiusMM}
	switch {
	case req.Preset != "":
		coord, err := s.presets.Resolve(req.Preset)
		if err != nil {
			return spec, err
		}
		spec.Coord = coord
	case req.Coord != nil:
		spec.Coord = *req.Coord
	default:
		return spec, fmt.Errorf("target requires a preset name or an explicit coord")
	}
	return spec, nil
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target         targetRequest `json:"target"`
		Method         string        `json:"method"`
		MaxIterations  int           `json:"max_iterations"`
		PopulationSize int           `json:"population_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	spec, err := s.resolveTarget(req.Target)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MaxIterations <= 0 {
		req.MaxIterations = 100
	}
	if req.Method == "" {
		req.Method = string(search.DifferentialEvolution)
	}

	state := s.newJob("single")
	ctx, cancel := context.WithCancel(context.Background())
	state.Cancel = cancel

	go s.runSingle(ctx, state, spec, search.Options{
		Target:         spec,
		Method:         search.Method(req.Method),
		MaxIterations:  req.MaxIterations,
		PopulationSize: req.PopulationSize,
	})

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": state.ID,
		"status": state.Status,
	})
}

func (s *Server) handlePareto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target             targetRequest `json:"target"`
		NSolutions         int           `json:"n_solutions"`
		MaxIterPerSolution int           `json:"max_iter_per_solution"`
		NCores             int           `json:"n_cores"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	spec, err := s.resolveTarget(req.Target)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.NSolutions <= 0 {
		req.NSolutions = 10
	}
	if req.MaxIterPerSolution <= 0 {
		req.MaxIterPerSolution = 500
	}
	if req.NCores == 0 {
		req.NCores = s.cfg.Optimization.WorkerCount
	}

	state := s.newJob("pareto")
	ctx, cancel := context.WithCancel(context.Background())
	state.Cancel = cancel

	go s.runPareto(ctx, state, spec, req.NSolutions, req.MaxIterPerSolution, req.NCores)

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": state.ID,
		"status": state.Status,
	})
}

// runSingle executes a single-objective job in its own goroutine.
func (s *Server) runSingle(ctx context.Context, state *jobState, spec target.Spec, opts search.Options) {
	start := time.Now()
	s.setStatus(state, "running")
	s.observeStart("single")

	ev := montage.NewEvaluator(s.model)
	runner := search.NewRunner(ev)
	opts.Progress = s.progressFunc(state.ID)

	run, err := runner.Run(ctx, opts)

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	if err != nil {
		s.logger.Error("Optimization failed", map[string]interface{}{
			"job_id": state.ID, "error": err.Error(),
		})
		state.Status = "failed"
		state.Err = err.Error()
		s.observeDone("single", "failed", time.Since(start))
		return
	}

	state.Status = "completed"
	state.Run = run
	s.observeDone("single", "completed", time.Since(start))

	if s.store != nil {
		if _, err := s.store.SaveRun(context.Background(), spec, run); err != nil {
			s.logger.Warn("Failed to persist run", map[string]interface{}{
				"job_id": state.ID, "error": err.Error(),
			})
		}
	}
}

// runPareto executes a multi-solution job in its own goroutine.
func (s *Server) runPareto(ctx context.Context, state *jobState, spec target.Spec, nSolutions, maxIter, nCores int) {
	start := time.Now()
	s.setStatus(state, "running")
	s.observeStart("pareto")

	ev := montage.NewEvaluator(s.model)
	ps := pareto.NewSearch(ev)
	ps.Progress = s.progressFunc(state.ID)
	ps.EvalSecondsPer10kVoxels = s.cfg.Optimization.EvalSecondsPer10kVoxels
	ps.TimeoutFloor = s.cfg.Optimization.TimeoutFloor
	ps.TimeoutCeiling = s.cfg.Optimization.TimeoutCeiling

	var solutions []pareto.Solution
	var stats *pareto.Stats
	err := ev.SetTarget(spec)
	if err == nil {
		solutions, stats, err = ps.Generate(ctx, nSolutions, maxIter, nCores)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	if err != nil {
		s.logger.Error("Pareto generation failed", map[string]interface{}{
			"job_id": state.ID, "error": err.Error(),
		})
		state.Status = "failed"
		state.Err = err.Error()
		s.observeDone("pareto", "failed", time.Since(start))
		return
	}

	state.Status = "completed"
	state.Solutions = solutions
	state.Stats = stats
	if s.metrics != nil {
		s.metrics.SolutionsValid.Add(float64(len(solutions)))
		s.metrics.WorkerFailures.Add(float64(nSolutions - len(solutions)))
	}
	s.observeDone("pareto", "completed", time.Since(start))

	if s.store != nil && len(solutions) > 0 {
		if _, err := s.store.SaveSolutions(context.Background(), spec, solutions); err != nil {
			s.logger.Warn("Failed to persist solutions", map[string]interface{}{
				"job_id": state.ID, "error": err.Error(),
			})
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	state, ok := s.jobs[id]
	if !ok {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := map[string]interface{}{
		"job_id":      state.ID,
		"kind":        state.Kind,
		"status":      state.Status,
		"start_time":  state.StartTime.Format(time.RFC3339),
		"last_update": state.LastUpdated.Format(time.RFC3339),
	}
	if state.EndTime != nil {
		resp["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.Err != "" {
		resp["error"] = state.Err
	}
	if state.Run != nil {
		resp["result"] = s.renderRun(state.Run)
	}
	if state.Solutions != nil {
		resp["solutions"] = s.renderSolutions(state.Solutions)
	}
	if state.Stats != nil {
		resp["stats"] = state.Stats
	}

	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	state, ok := s.jobs[id]
	if !ok {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	switch state.Status {
	case "completed", "failed", "cancelled":
		s.respondError(w, http.StatusConflict, "job already in terminal state: "+state.Status)
		return
	}

	if state.Cancel != nil {
		state.Cancel()
	}
	state.Status = "cancelled"
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Job cancelled", map[string]interface{}{"job_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": []string{}})
		return
	}
	ids, err := s.store.ListRunIDs(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": ids})
}

// renderRun attaches electrode labels when a mapping is available.
func (s *Server) renderRun(run *search.Run) map[string]interface{} {
	out := map[string]interface{}{
		"electrodes":     run.Electrodes,
		"current_ratio":  run.CurrentRatio,
		"field_strength": run.FieldStrength,
		"method":         run.Method,
		"evaluations":    run.Evaluations,
		"success":        run.Success,
	}
	if labels := s.labelNames(run.Electrodes); labels != nil {
		out["electrode_labels"] = labels
	}
	return out
}

func (s *Server) renderSolutions(solutions []pareto.Solution) []map[string]interface{} {
	out := make([]map[string]interface{}, len(solutions))
	for i, sol := range solutions {
		entry := map[string]interface{}{
			"solution_index":  sol.SolutionIndex,
			"electrodes":      sol.Electrodes,
			"current_ratio":   sol.CurrentRatio,
			"intensity_field": sol.IntensityField,
			"focality":        sol.Focality,
			"improvements":    sol.Improvements,
			"elapsed_seconds": sol.Elapsed.Seconds(),
		}
		if labels := s.labelNames(sol.Electrodes); labels != nil {
			entry["electrode_labels"] = labels
		}
		out[i] = entry
	}
	return out
}

func (s *Server) labelNames(electrodes [4]int) []string {
	if len(s.labels) == 0 {
		return nil
	}
	names := make([]string, 4)
	for i, e := range electrodes {
		if e < len(s.labels) {
			names[i] = s.labels[e]
		} else {
			names[i] = fmt.Sprintf("E%d", e)
		}
	}
	return names
}

func (s *Server) newJob(kind string) *jobState {
	state := &jobState{
		ID:          uuid.NewString(),
		Kind:        kind,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
	}
	s.jobsMu.Lock()
	s.jobs[state.ID] = state
	s.jobsMu.Unlock()
	return state
}

func (s *Server) setStatus(state *jobState, status string) {
	s.jobsMu.Lock()
	state.Status = status
	state.LastUpdated = time.Now()
	s.jobsMu.Unlock()
}

// progressFunc routes optimizer progress events to the log and counters.
func (s *Server) progressFunc(jobID string) func(level, msg string) {
	return func(level, msg string) {
		fields := map[string]interface{}{"job_id": jobID}
		switch level {
		case "warn":
			s.logger.Warn(msg, fields)
		case "error":
			s.logger.Error(msg, fields)
		default:
			s.logger.Info(msg, fields)
		}
		if s.metrics != nil {
			s.metrics.ProgressMessages.WithLabelValues(level).Inc()
		}
	}
}

func (s *Server) observeStart(kind string) {
	if s.metrics != nil {
		s.metrics.RunsStarted.WithLabelValues(kind).Inc()
	}
}

func (s *Server) observeDone(kind, outcome string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RunsCompleted.WithLabelValues(kind, outcome).Inc()
		s.metrics.RunDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  status,
		"message": msg,
	})
	s.respondJSON(w, status, map[string]string{"error": msg})
}

// Close cancels all running jobs.
func (s *Server) Close() error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for _, job := range s.jobs {
		if job.Cancel != nil {
			job.Cancel()
		}
	}
	return nil
}
