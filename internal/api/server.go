package api

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/headline-tracker/internal/config"
	"github.com/JakeFAU/headline-tracker/internal/metrics"
	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

// Runner executes refresh runs.
type Runner interface {
	Run(ctx context.Context, opts tracker.RunOptions) (tracker.RunSummary, error)
}

// Server wires HTTP handlers to the store and the run orchestrator.
type Server struct {
	router    chi.Router
	store     tracker.Store
	runner    Runner
	cfg       config.Config
	logger    *zap.Logger
	templates *template.Template

	// mu guards delay, the default used by the run form. A submitted delay
	// becomes the default for later runs.
	mu    sync.Mutex
	delay time.Duration
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store tracker.Store, runner Runner, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     store,
		runner:    runner,
		cfg:       cfg,
		logger:    logger,
		templates: parseTemplates(),
		delay:     cfg.Delay(),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(30 * time.Second))
		r.Get("/", s.home)
		r.Get("/profiles", s.listProfilesPage)
		r.Get("/run", s.runForm)
		r.Get("/history.csv", s.historyCSV)
		r.Get("/api/profiles", s.apiListProfiles)
		r.Get("/api/profiles/{id}/history", s.apiProfileHistory)
	})

	// Runs are synchronous and may take minutes, so these routes have no
	// request timeout.
	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/profiles", s.addProfile)
		r.Post("/profiles/{id}/firm", s.setFirm)
		r.Post("/run", s.runSubmit)
		r.Post("/api/profiles", s.apiAddProfile)
		r.Post("/api/runs", s.apiRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// DefaultDelay returns the delay the run form currently offers.
func (s *Server) DefaultDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

func (s *Server) setDefaultDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tracker.ErrInvalidURL),
		errors.Is(err, tracker.ErrInvalidName),
		errors.Is(err, tracker.ErrInvalidDelay):
		return http.StatusBadRequest
	case errors.Is(err, tracker.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
