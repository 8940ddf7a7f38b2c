package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/strata/internal/events"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
)

// RunReader defines the run log queries served by the API.
type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]runlog.Run, error)
	GetRun(ctx context.Context, id string) (*runlog.Run, error)
}

// SnapshotLister defines the snapshot queries served by the API.
type SnapshotLister interface {
	List(ctx context.Context) ([]snapshot.Snapshot, error)
}

// ScheduleInfo reports the daemon schedule. Nil outside the daemon.
type ScheduleInfo interface {
	Next() time.Time
	LastRun() (time.Time, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Token is the bearer token; empty leaves the API open.
	Token string
}

// Deps are the data sources behind the endpoints. Runs and Snapshots are required.
type Deps struct {
	Runs      RunReader
	Snapshots SnapshotLister
	Schedule  ScheduleInfo
	Events    *events.Hub
	Metrics   http.Handler
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.Token != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/snapshots", s.handleListSnapshots)
		if s.deps.Events != nil {
			r.Get("/events", s.handleEvents)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
