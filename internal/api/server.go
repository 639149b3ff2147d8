package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/macrogw/internal/dispatch"
	"github.com/mattjoyce/macrogw/internal/events"
)

// JobDispatcher defines the dispatch operations the API needs.
type JobDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.JobRequest) (*dispatch.Job, error)
	Running() []dispatch.JobInfo
	Terminate(id string) error
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the shared secret required on every protected route.
	APIKey string
	// KeyHeader names the header carrying APIKey. Authorization: Bearer is
	// accepted as well.
	KeyHeader   string
	MaxBodySize int64
	// Engines lists the engine names a trigger may select. Empty allows any.
	Engines []string
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	dispatcher JobDispatcher
	events     *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server instance
func New(config Config, dispatcher JobDispatcher, hub *events.Hub, logger *slog.Logger) *Server {
	if config.KeyHeader == "" {
		config.KeyHeader = "X-API-Key"
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 1 << 20
	}
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		events:     hub,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: /events is a long-lived stream.
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

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
		if s.events != nil {
			// Ends open SSE streams so Shutdown does not wait on them.
			s.events.Close()
		}
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.limitBody).Post("/run-macro", s.handleRunMacro)
		r.Get("/jobs", s.handleListJobs)
		r.Delete("/jobs/{id}", s.handleTerminateJob)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests. Bodies and credentials are never logged.
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

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)
		next.ServeHTTP(w, r)
	})
}
