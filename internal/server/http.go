// Package server assembles the HTTP router and owns the listener lifecycle.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	audithandler "embedded-session-auth/internal/audit/handler"
	healthhandler "embedded-session-auth/internal/health/handler"
	"embedded-session-auth/internal/server/middleware"
	sessionhandler "embedded-session-auth/internal/session/handler"
)

// NewRouter wires every handler behind the shared middleware chain. auditTrail
// may be nil when no durable audit store is configured.
func NewRouter(sessions *sessionhandler.Handler, health *healthhandler.Handler, auditTrail *audithandler.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recover, middleware.RequestLog)
	sessions.Register(r)
	health.Register(r)
	if auditTrail != nil {
		auditTrail.Register(r)
	}
	return r
}

// Server runs the HTTP listener with sane timeouts and graceful shutdown.
type Server struct {
	http *http.Server
}

func New(addr string, handler http.Handler) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
