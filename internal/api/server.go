package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/shadowprobe/internal/app"
	"github.com/JakeFAU/shadowprobe/internal/catalog"
	"github.com/JakeFAU/shadowprobe/internal/metrics"
	"github.com/JakeFAU/shadowprobe/internal/middleware"
)

// Runner executes probe runs. *app.App satisfies it.
type Runner interface {
	Run(ctx context.Context, req app.RunRequest) (*app.RunResult, error)
	Catalog() catalog.Catalog
}

// Config shapes the server.
type Config struct {
	// MaxConcurrentRuns caps runs executing at once. Further runs stay queued.
	MaxConcurrentRuns int
	// RequestTimeout bounds each HTTP handler. Zero uses 60s.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the runner and the run store.
type Server struct {
	router chi.Router
	runner Runner
	runs   *RunStore
	ids    app.IDGenerator
	clock  app.Clock
	logger *zap.Logger

	slots   chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	// mu orders admissions against Close so no run is added after the drain starts.
	mu     sync.Mutex
	closed bool
}

type probeRequest struct {
	Username      string   `json:"username"`
	Sites         []string `json:"sites"`
	RespectRobots *bool    `json:"respect_robots"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runner Runner,
	runs *RunStore,
	ids app.IDGenerator,
	clock app.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runs == nil {
		runs = NewRunStore()
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:  runner,
		runs:    runs,
		ids:     ids,
		clock:   clock,
		logger:  logger,
		slots:   make(chan struct{}, cfg.MaxConcurrentRuns),
		baseCtx: baseCtx,
		cancel:  cancel,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sites", s.listSites)
		r.Route("/probes", func(r chi.Router) {
			r.Post("/", s.submitProbe)
			r.Get("/", s.listProbes)
			r.Get("/{run_id}", s.getProbe)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops accepting runs and waits for in-flight runs. When ctx expires
// first, remaining runs are cancelled and Close returns ctx's error.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return fmt.Errorf("wait for runs: %w", ctx.Err())
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSites(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"sites": s.runner.Catalog()})
}

func (s *Server) submitProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		s.writeError(w, http.StatusBadRequest, "username required")
		return
	}
	if len(req.Sites) > 0 {
		if _, unknown := s.runner.Catalog().Filter(req.Sites); len(unknown) > 0 {
			s.writeError(w, http.StatusBadRequest, "unknown sites: "+strings.Join(unknown, ", "))
			return
		}
	}

	runID, err := s.ids.NewRunID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	id := runID.String()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.writeError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	s.runs.Put(RunRecord{
		ID:        id,
		Username:  req.Username,
		Status:    RunStatusQueued,
		Submitted: s.clock.Now(),
	})
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(app.RunRequest{
		RunID:         runID,
		Username:      req.Username,
		Sites:         req.Sites,
		RespectRobots: req.RespectRobots,
		OutputPath:    app.ArtifactPath(runID),
	})
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (s *Server) execute(req app.RunRequest) {
	defer s.wg.Done()
	id := req.RunID.String()
	logger := s.logger.With(zap.String("run_id", id))

	select {
	case s.slots <- struct{}{}:
	case <-s.baseCtx.Done():
		s.finish(id, nil, s.baseCtx.Err())
		return
	}
	defer func() { <-s.slots }()

	started := s.clock.Now()
	s.runs.Update(id, func(rec *RunRecord) {
		rec.Status = RunStatusRunning
		rec.Started = &started
	})

	res, err := s.runner.Run(s.baseCtx, req)
	if err != nil {
		logger.Warn("api run finished with error", zap.Error(err))
	}
	s.finish(id, res, err)
}

// finish records the outcome. A run with a report succeeded even when a sink
// failed; the sink error is kept alongside the report.
func (s *Server) finish(id string, res *app.RunResult, err error) {
	finished := s.clock.Now()
	s.runs.Update(id, func(rec *RunRecord) {
		rec.Finished = &finished
		if err != nil {
			rec.Error = err.Error()
		}
		if res == nil {
			rec.Status = RunStatusFailed
			return
		}
		rep := res.Report
		rec.Status = RunStatusSucceeded
		rec.Report = &rep
		rec.ArtifactURI = res.ArtifactURI
	})
}

func (s *Server) listProbes(w http.ResponseWriter, _ *http.Request) {
	runs := s.runs.List()
	for i := range runs {
		runs[i].Report = nil
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getProbe(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.runs.Get(chi.URLParam(r, "run_id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		s.logger.Error("write JSON failed", zap.Int("status", status), zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
