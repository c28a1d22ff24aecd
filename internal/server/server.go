// Package server is the HTTP front door: JSON chat, SSE streaming, history
// and usage endpoints over the chat service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"repairbot/internal/chat"
	"repairbot/internal/logging"
	"repairbot/internal/store"

	"go.uber.org/zap"
)

// ChatService is what the handlers need from *chat.Service.
type ChatService interface {
	Send(ctx context.Context, req chat.Request) (*chat.Result, error)
	History(ctx context.Context, ownerID, threadID string, limit int) (*chat.HistoryView, error)
	Clear(ctx context.Context, ownerID, threadID string) (int64, error)
	Session(ctx context.Context, ownerID, threadID string) (*chat.SessionInfo, error)
	Usage(ctx context.Context, ownerID string) (store.Usage, error)
}

// Options configures the server.
type Options struct {
	Addr string
	// BypassAuth serves every request as DefaultOwner.
	BypassAuth     bool
	DefaultOwner   string
	AllowedOrigins []string
	ReadTimeout    time.Duration
}

// Server represents the HTTP API server.
type Server struct {
	router *http.ServeMux
	server *http.Server
	opts   Options
	chat   ChatService
	log    *zap.SugaredLogger
}

// NewServer creates a server; routes and middleware are applied here.
func NewServer(opts Options, svc ChatService) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	s := &Server{
		router: http.NewServeMux(),
		opts:   opts,
		chat:   svc,
		log:    logging.Get(logging.CategoryServer),
	}
	s.registerRoutes()

	// No WriteTimeout: streamed replies can outlast any fixed budget.
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.applyMiddleware(s.router),
		ReadHeaderTimeout: opts.ReadTimeout,
		ReadTimeout:       opts.ReadTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("GET /{$}", s.handleIndex)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("POST /chat", s.requireOwner(s.handleChat))
	s.router.HandleFunc("POST /chat/stream", s.requireOwner(s.handleChatStream))
	s.router.HandleFunc("GET /chat/history", s.requireOwner(s.handleHistory))
	s.router.HandleFunc("DELETE /chat/history", s.requireOwner(s.handleClearHistory))
	s.router.HandleFunc("GET /chat/sessions", s.requireOwner(s.handleSession))
	s.router.HandleFunc("GET /analytics/usage", s.requireOwner(s.handleUsage))
}

// applyMiddleware wraps the handler; the last one applied runs first.
func (s *Server) applyMiddleware(h http.Handler) http.Handler {
	h = recoveryMiddleware(s.log)(h)
	h = loggingMiddleware(s.log)(h)
	h = requestIDMiddleware()(h)
	h = corsMiddleware(s.opts.AllowedOrigins)(h)
	return h
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Infow("starting HTTP server", "addr", s.opts.Addr, "bypass_auth", s.opts.BypassAuth)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Infow("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP implements http.Handler for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}
