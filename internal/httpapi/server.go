// Package httpapi exposes the HTTP surface of the engine: webhook intake,
// a small admin API over the stores, the live event stream and health.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/convoflowhq/convoflow/internal/orchestrator"
	"github.com/convoflowhq/convoflow/internal/registry"
	"github.com/convoflowhq/convoflow/internal/store"
)

// Server hosts the webhook, admin and watcher endpoints.
type Server struct {
	log    *slog.Logger
	orch   *orchestrator.Orchestrator
	stores *store.Stores
	reg    *registry.Registry

	upgrader websocket.Upgrader
	srv      *http.Server
}

func NewServer(log *slog.Logger, addr string, orch *orchestrator.Orchestrator, stores *store.Stores, reg *registry.Registry) *Server {
	s := &Server{
		log:    log,
		orch:   orch,
		stores: stores,
		reg:    reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhooks/{platform}", s.handleWebhook)
	r.Get("/ws/events", s.handleEvents)

	r.Route("/api", func(r chi.Router) {
		r.Get("/clients/{clientID}", s.handleGetClient)
		r.Get("/workflows/{workflowID}", s.handleGetWorkflow)
		r.Get("/workflows/{workflowID}/actions", s.handleWorkflowActions)
		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/messages", s.handleListMessages)
			r.Post("/pause", s.handlePause)
			r.Post("/confirm", s.handleConfirm)
		})
	})
	return r
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes the watcher registry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.reg.Close()
	return s.srv.Shutdown(ctx)
}

// handleEvents upgrades the connection and streams orchestration events
// until the watcher goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	id := s.reg.Register(ws)
	if id == "" {
		return
	}
	defer s.reg.Unregister(id)

	// Drain the read side so pings and close frames are processed.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"watchers": s.reg.Count(),
	})
}
