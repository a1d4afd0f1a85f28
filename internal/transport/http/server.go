// Package http implements C6's REST front end: a gorilla/mux router
// exposing the bridge orchestrator's delegate/checkStatus/getResponse/
// ping surface (and the registry operations around it) to a controller
// that is not in-process. Every handler is a thin pass-through onto
// *bridge.Orchestrator -- grounded on the teacher's
// internal/server/handlers.go, which keeps the same "no business logic
// in the handler" discipline around its own store/spawner.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aibridge/bridge/internal/bridge"
)

// MaxPayloadSize bounds a single request body, mirroring the teacher's
// own DoS-prevention constant (internal/server/handlers.go).
const MaxPayloadSize = 1 * 1024 * 1024 // 1MB

// Server wraps an *http.Server bound to a mux.Router dispatching onto
// an orchestrator. It owns no orchestrator lifecycle of its own --
// Start/Stop on the orchestrator are the caller's (cmd/bridged's)
// responsibility, same division the teacher draws between its
// server.Server and the agents it supervises.
type Server struct {
	orch       *bridge.Orchestrator
	router     *mux.Router
	httpServer *http.Server
}

// NewServer builds a Server listening on addr (e.g. ":8420") and wires
// every C6 route onto orch.
func NewServer(orch *bridge.Orchestrator, addr string) *Server {
	s := &Server{
		orch:   orch,
		router: mux.NewRouter(),
	}
	s.router.Use(SecurityHeadersMiddleware)
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router exposes the underlying router, mainly so internal/transport/ws
// can mount its own /ws handler on the same mux instance.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ais", s.handleListAIs).Methods(http.MethodGet)
	api.HandleFunc("/ais", s.handleRegisterAI).Methods(http.MethodPost)
	api.HandleFunc("/ais/{name}", s.handleUnregisterAI).Methods(http.MethodDelete)
	api.HandleFunc("/ais/{name}/delegate", s.handleDelegate).Methods(http.MethodPost)
	api.HandleFunc("/ais/{name}/ping", s.handlePing).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/status", s.handleRequestStatus).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/response", s.handleGetResponse).Methods(http.MethodGet)
	api.HandleFunc("/system/status", s.handleSystemStatus).Methods(http.MethodGet)
}

// ListenAndServe blocks serving HTTP until the server is shut down or
// an unrecoverable error occurs.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
