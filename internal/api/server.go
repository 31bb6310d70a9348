// Package api serves the boundary operations over a small JSON HTTP API.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nhle/inboxpilot/internal/app"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/store"
	"github.com/nhle/inboxpilot/internal/sync"
)

// Backend is the set of operations the API exposes. *app.Service
// implements it.
type Backend interface {
	GetStatus(ctx context.Context) (*app.Status, error)
	Sync(ctx context.Context) (*sync.Result, error)
	ListMessages(ctx context.Context, f app.Filter) ([]app.MessageSummary, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	RegenerateDraft(ctx context.Context, id string) (string, error)
	RefineDraft(ctx context.Context, id, instruction string) (string, error)
	SendReply(ctx context.Context, id, content string) error
	Stats(ctx context.Context) (*store.Stats, error)
	Cleanup(ctx context.Context, days int) (int64, error)
}

// DefaultAddr binds the API to loopback only.
const DefaultAddr = "127.0.0.1:8080"

// Server is the HTTP server of the API.
type Server struct {
	backend Backend
	mux     *http.ServeMux
	srv     *http.Server
	addr    string
	log     *slog.Logger
}

// NewServer creates a server listening on addr once started.
func NewServer(addr string, backend Backend, log *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		backend: backend,
		mux:     http.NewServeMux(),
		addr:    addr,
		log:     log.With("component", "api"),
	}
	s.registerRoutes()

	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerRoutes sets up the JSON routes.
func (s *Server) registerRoutes() {
	api := func(handler http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			handler(w, r)
		}
	}

	s.mux.HandleFunc("GET /api/status", api(s.handleStatus))
	s.mux.HandleFunc("POST /api/sync", api(s.handleSync))

	s.mux.HandleFunc("GET /api/messages", api(s.handleListMessages))
	s.mux.HandleFunc("GET /api/messages/{id}", api(s.handleGetMessage))
	s.mux.HandleFunc("POST /api/messages/{id}/regenerate", api(s.handleRegenerate))
	s.mux.HandleFunc("POST /api/messages/{id}/refine", api(s.handleRefine))
	s.mux.HandleFunc("POST /api/messages/{id}/reply", api(s.handleReply))

	s.mux.HandleFunc("GET /api/stats", api(s.handleStats))
	s.mux.HandleFunc("POST /api/cleanup", api(s.handleCleanup))
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
		// Sync and draft requests wait on the model server.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.log.Info("Starting API server", "addr", ln.Addr().String())
	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
