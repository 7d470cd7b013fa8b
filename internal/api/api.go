// Package api exposes the confirmation engine over HTTP.
//
// Every response is JSON. Failures use a single envelope:
//
//	{"request_id": "req_...", "error": {"code", "message", "retryable", "details"}}
//
// where code is one of the engine error codes, and details.expected_token is
// present when a second factor is outstanding.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/txgate/internal/engine"
)

// Server routes HTTP requests to an engine.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger
	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds a Server for e.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{engine: e, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Route("/v1", func(api chi.Router) {
		api.Post("/confirmations", s.handleCreate)
		api.Get("/confirmations", s.handleList)
		api.Get("/confirmations/{id}", s.handleGet)
		api.Post("/confirmations/{id}/confirm", s.handleConfirm)
		api.Post("/confirmations/{id}/retry", s.handleRetry)
		api.Post("/confirmations/{id}/skip", s.handleSkip)
		api.Post("/links", s.handleLink)
		api.Post("/sweep", s.handleSweep)
	})
	return r
}
