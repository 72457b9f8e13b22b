// Package server exposes a running session over HTTP: the reflection log,
// the cost report, checkpoints and a signal endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/reflex/internal/checkpoint"
	"github.com/ShayCichocki/reflex/internal/cost"
	"github.com/ShayCichocki/reflex/internal/interrupt"
	"github.com/ShayCichocki/reflex/internal/reflection"
)

// SignalSink accepts signals posted to the server.
type SignalSink interface {
	Submit(s interrupt.Signal) error
}

// Config wires the server to a session. Nil collaborators make their
// routes answer 503.
type Config struct {
	Addr        string
	Gate        *reflection.Gate
	Governor    *cost.Governor
	Checkpoints *checkpoint.Store
	Signals     SignalSink
	// Status reports the loop status for GET /v1/status.
	Status func() any
	Logger zerolog.Logger
}

// Server is the HTTP status server.
type Server struct {
	cfg        Config
	router     chi.Router
	httpServer *http.Server
	logger     zerolog.Logger
}

// New creates a Server with all routes wired.
func New(cfg Config) *Server {
	router := chi.NewRouter()
	logger := cfg.Logger.With().Str("component", "server").Logger()

	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(requestLogger(logger))

	s := &Server{
		cfg:    cfg,
		router: router,
		logger: logger,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	router.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/reflection", s.handleReflection)
		r.Get("/cost", s.handleCost)
		r.Get("/checkpoints", s.handleCheckpoints)
		r.Post("/signals", s.handleSignal)
	})

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Shutdown is called.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Serve serves on an existing listener until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
