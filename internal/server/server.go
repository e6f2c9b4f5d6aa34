package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/copyleftdev/hypertune/internal/config"
	herrors "github.com/copyleftdev/hypertune/internal/errors"
	"github.com/copyleftdev/hypertune/internal/logging"
	"github.com/copyleftdev/hypertune/internal/metrics"
	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/optimization/bayesian"
	"github.com/copyleftdev/hypertune/internal/store"
	"github.com/copyleftdev/hypertune/internal/study"
)

// maxStudyBytes bounds the size of a study description in a request body.
const maxStudyBytes = 1 << 20

// stopFailed labels runs whose optimizer returned an error.
const stopFailed optimization.StopReason = "failed"

// storeTimeout bounds store writes made from the optimization goroutine.
const storeTimeout = 5 * time.Second

// Logger defines the logging interface used by the server
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// activeRun is a study currently optimizing in this process.
type activeRun struct {
	optimizer *bayesian.BayesianOptimizer
	cancel    context.CancelFunc
}

// Server implements the HTTP and JSON-RPC server for the tuning service.
// It starts studies, reports their progress and cancels them.
type Server struct {
	cfg      *config.Config
	logger   Logger
	zap      *zap.Logger
	store    store.Store
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	client   *http.Client

	// Runs optimizing in this process
	active   map[string]*activeRun
	activeMu sync.RWMutex
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithStore sets the run store. Defaults to an in-memory store.
func WithStore(st store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics sets the metrics and the gatherer served on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithHTTPClient sets the client used by HTTP objectives.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.client = c }
}

// NewServer creates a new server instance with the given config and logger
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{},
		active: make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = store.NewMemoryStore()
	}
	if s.metrics == nil {
		reg := prometheus.NewRegistry()
		s.metrics = metrics.New(reg)
		s.gatherer = reg
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.zap = logging.NewZapLogger(logger.WithFields(nil))
	return s
}

// Handler returns the complete HTTP handler with middleware.
func (s *Server) Handler() http.Handler {
	base := s.logger.WithFields(nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(base))
	r.Use(herrors.RecoveryMiddleware(base))
	r.Use(middleware.Timeout(60 * time.Second))

	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/studies", s.handleCreateStudy)
		r.Get("/studies", s.handleListStudies)
		r.Get("/studies/{id}", s.handleGetStudy)
		r.Get("/studies/{id}/observations", s.handleObservations)
		r.Delete("/studies/{id}", s.handleCancelStudy)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// RunView is the wire form of a run.
type RunView struct {
	*store.Run
	Progress float64 `json:"progress"`
}

// errInvalidStudy marks errors caused by the submitted study.
var errInvalidStudy = errors.New("invalid study")

// StartStudy validates spec, records a new run and starts optimizing it in the background.
func (s *Server) StartStudy(ctx context.Context, spec study.Spec) (*store.Run, error) {
	st, err := spec.Build(s.cfg.StudyDefaults(), s.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidStudy, err)
	}

	id := uuid.NewString()
	run := &store.Run{
		ID:        id,
		Name:      st.Name,
		Status:    store.StatusPending,
		State:     optimization.StateInitializing.String(),
		Budget:    st.Config.NInitialPoints + st.Config.RefiningIterations(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	logger := s.zap.With(zap.String("run_id", id))
	tracked := *run
	st.Config.Observers = append(st.Config.Observers,
		s.metrics.Observer(id),
		optimization.ObserverFunc(func(obs optimization.Observation) { s.persist(&tracked, obs) }),
	)

	opt, err := bayesian.NewBayesianOptimizer(st.Config,
		bayesian.WithLogger(logger),
		bayesian.WithKernel(st.Kernel),
	)
	if err != nil {
		tracked.Status = store.StatusFailed
		tracked.Error = err.Error()
		s.updateRun(ctx, &tracked)
		return nil, fmt.Errorf("%w: %w", errInvalidStudy, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.activeMu.Lock()
	s.active[id] = &activeRun{optimizer: opt, cancel: cancel}
	s.activeMu.Unlock()

	s.wg.Add(1)
	go s.execute(runCtx, &tracked, opt)

	s.logger.Info("Study started", map[string]interface{}{
		"run_id": id,
		"study":  st.Name,
		"budget": run.Budget,
	})
	return run, nil
}

// persist records obs and the run's progress. It runs on the optimization goroutine,
// which owns run.
func (s *Server) persist(run *store.Run, obs optimization.Observation) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.store.AppendObservation(ctx, run.ID, obs); err != nil {
		s.logger.Error("Failed to store observation", map[string]interface{}{
			"run_id": run.ID,
			"index":  obs.Index,
			"error":  err.Error(),
		})
	}

	run.Evaluations = obs.Index + 1
	run.State = string(obs.Phase)
	if obs.Finite() && (run.Best == nil || obs.Loss < run.Best.Loss) {
		best := obs
		run.Best = &best
	}
	s.updateRun(ctx, run)
}

// execute runs the optimizer and records the outcome.
func (s *Server) execute(ctx context.Context, run *store.Run, opt *bayesian.BayesianOptimizer) {
	defer s.wg.Done()
	defer func() {
		s.activeMu.Lock()
		if a, ok := s.active[run.ID]; ok {
			a.cancel()
			delete(s.active, run.ID)
		}
		s.activeMu.Unlock()
	}()

	started := time.Now().UTC()
	run.Status = store.StatusRunning
	run.StartedAt = &started
	s.updateRun(context.Background(), run)
	s.metrics.RunStarted()

	result, err := opt.Optimize(ctx)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.State = optimization.StateTerminated.String()

	reason := stopFailed
	switch {
	case err != nil:
		run.Status = store.StatusFailed
		run.Error = err.Error()
		s.logger.Error("Study failed", map[string]interface{}{
			"run_id": run.ID,
			"error":  err.Error(),
		})
	default:
		reason = result.StopReason
		run.StopReason = string(reason)
		run.Iterations = result.Iterations
		run.Evaluations = len(result.History)
		// A run whose evaluations all failed has no best.
		run.Best = nil
		if result.Best != nil && result.Best.Finite() {
			run.Best = result.Best
		}
		run.Status = store.StatusCompleted
		if reason == optimization.StopCancelled {
			run.Status = store.StatusCancelled
		}

		fields := map[string]interface{}{
			"run_id":      run.ID,
			"stop_reason": string(reason),
			"evaluations": run.Evaluations,
		}
		if run.Best != nil {
			fields["best_loss"] = optimization.FormatLoss(run.Best.Loss)
		}
		s.logger.Info("Study finished", fields)
	}
	s.metrics.RunFinished(reason)
	s.metrics.Forget(run.ID)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	s.updateRun(ctx, run)
}

func (s *Server) updateRun(ctx context.Context, run *store.Run) {
	if err := s.store.UpdateRun(ctx, run); err != nil {
		s.logger.Error("Failed to update run", map[string]interface{}{
			"run_id": run.ID,
			"error":  err.Error(),
		})
	}
}

// Status returns the stored run, refreshed with the live loop state when the
// run is optimizing in this process.
func (s *Server) Status(ctx context.Context, id string) (*RunView, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	s.activeMu.RLock()
	a, ok := s.active[id]
	s.activeMu.RUnlock()
	if ok && !run.Status.Terminal() {
		run.State = a.optimizer.State().String()
		run.Iterations = a.optimizer.Iterations()
	}
	return &RunView{Run: run, Progress: run.Progress()}, nil
}

// errNotActive is returned when cancelling a run that is not optimizing.
var errNotActive = errors.New("run is not active")

// Cancel asks a running study to stop after its current evaluation.
func (s *Server) Cancel(ctx context.Context, id string) error {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return err
	}

	s.activeMu.RLock()
	a, ok := s.active[id]
	s.activeMu.RUnlock()
	if !ok || run.Status.Terminal() {
		return fmt.Errorf("%w: status %s", errNotActive, run.Status)
	}

	a.optimizer.Stop()
	a.cancel()

	s.logger.Info("Study cancellation requested", map[string]interface{}{
		"run_id": id,
	})
	return nil
}

// Close cancels all running studies. It does not wait for them; use Wait.
func (s *Server) Close() error {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	for _, a := range s.active {
		a.optimizer.Stop()
		a.cancel()
	}
	return nil
}

// Wait blocks until all studies have finished or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleCreateStudy handles POST /api/v1/studies. The body is a YAML or JSON study.
func (s *Server) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStudyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read request body: %w", err))
		return
	}
	spec, err := study.Parse(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	run, err := s.StartStudy(r.Context(), spec)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Location", "/api/v1/studies/"+run.ID)
	s.writeJSON(w, http.StatusAccepted, RunView{Run: run})
}

// handleListStudies handles GET /api/v1/studies.
func (s *Server) handleListStudies(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]RunView, len(runs))
	for i, run := range runs {
		views[i] = RunView{Run: run, Progress: run.Progress()}
	}
	s.writeJSON(w, http.StatusOK, views)
}

// handleGetStudy handles GET /api/v1/studies/{id}.
func (s *Server) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	view, err := s.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleObservations handles GET /api/v1/studies/{id}/observations.
func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	obs, err := s.store.Observations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, obs)
}

// handleCancelStudy handles DELETE /api/v1/studies/{id}.
func (s *Server) handleCancelStudy(w http.ResponseWriter, r *http.Request) {
	if err := s.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "cancellation requested",
	})
}

// handleHealth reports whether the store is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errInvalidStudy):
		return http.StatusBadRequest
	case errors.Is(err, errNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
