// Package api is the HTTP chat boundary. A chat front end authenticates
// with a bearer token and submits commands; the principal in each command
// is then authorized by the relay.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/HelloWorldSungin/claude-strategist/internal/cache"
	"github.com/HelloWorldSungin/claude-strategist/internal/delivery"
	"github.com/HelloWorldSungin/claude-strategist/internal/freshness"
	"github.com/HelloWorldSungin/claude-strategist/internal/records"
	"github.com/HelloWorldSungin/claude-strategist/internal/relay"
)

// Dispatcher runs chat commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, req relay.Request, r delivery.Replier) relay.Outcome
	Stats() relay.Stats
}

// CacheReader exposes cache documents.
type CacheReader interface {
	Read(name string) (cache.Document, bool)
	List() ([]cache.Entry, error)
}

// RunLister lists recent job runs.
type RunLister interface {
	Recent(ctx context.Context, job string, limit int) ([]records.Run, error)
}

// FreshnessReporter returns the latest watchdog report.
type FreshnessReporter interface {
	Last() (freshness.Report, bool)
}

// Config holds API server configuration
type Config struct {
	Listen string
	Token  string
	// MaxBodyBytes bounds POST bodies.
	MaxBodyBytes int64
}

// Deps are the collaborators behind the routes. Nil dependencies make their
// routes answer 404.
type Deps struct {
	Dispatcher Dispatcher
	Cache      CacheReader
	Runs       RunLister
	Freshness  FreshnessReporter
	Metrics    http.Handler
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	now       func() time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.setupRoutes() }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// Synchronous commands run as long as the worker's class timeout.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
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

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/commands", s.handleCommand)
		r.Get("/cache", s.handleListCache)
		r.Get("/cache/{name}", s.handleGetCache)
		r.Get("/runs", s.handleRuns)
		r.Get("/freshness", s.handleFreshness)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
