package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aibridge/bridge/internal/bridge"
	"github.com/aibridge/bridge/internal/bridgeerr"
	"github.com/aibridge/bridge/internal/config"
)

// handleDelegate implements POST /api/ais/{name}/delegate.
func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r, MaxPayloadSize)
	name := mux.Vars(r)["name"]

	var env WireEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if env.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	id, err := s.orch.Delegate(r.Context(), name, delegateRequestFrom(env))
	if err != nil {
		respondOrchestratorError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, WireEnvelope{RequestID: id, AIName: name})
}

// handleRequestStatus implements GET /api/requests/{id}/status.
func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status := s.orch.CheckStatus(id)
	respondJSON(w, http.StatusOK, WireEnvelope{RequestID: id, Status: string(status)})
}

// handleGetResponse implements GET /api/requests/{id}/response. A
// request that exists but hasn't completed yet is reported as 202, not
// an error -- polling is the expected caller pattern (spec.md §6).
func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	resp := s.orch.GetResponse(id)
	if resp == nil {
		respondJSON(w, http.StatusAccepted, WireEnvelope{RequestID: id, Status: string(s.orch.CheckStatus(id))})
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handlePing implements GET /api/ais/{name}/ping.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	hs, err := s.orch.Ping(name)
	if err != nil {
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, hs)
}

// handleListAIs implements GET /api/ais.
func (s *Server) handleListAIs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ais": s.orch.ListAIs()})
}

// handleSystemStatus implements GET /api/system/status.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.orch.GetSystemStatus())
}

// handleRegisterAI implements POST /api/ais, registering a new daemon
// from a config.AIConfig body against a factory already wired into the
// orchestrator at construction time (spec.md §4.6: registerAI never
// creates factories, only looks one up by name).
func (s *Server) handleRegisterAI(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r, MaxPayloadSize)

	var cfg config.AIConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cfg.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	cfg.Durations()

	if _, err := s.orch.RegisterAI(r.Context(), cfg); err != nil {
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, WireEnvelope{AIName: cfg.Name, Status: "registered"})
}

// handleUnregisterAI implements DELETE /api/ais/{name}.
func (s *Server) handleUnregisterAI(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.orch.UnregisterAI(r.Context(), name); err != nil {
		respondOrchestratorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, WireEnvelope{AIName: name, Status: "unregistered"})
}

func delegateRequestFrom(env WireEnvelope) bridge.DelegateRequest {
	return bridge.DelegateRequest{Message: env.Message, Context: env.Context, Priority: env.Priority}
}

// limitRequestSize caps a request body, mirroring the teacher's own
// DoS-prevention helper of the same name (internal/server/handlers.go).
func limitRequestSize(r *http.Request, maxSize int64) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxSize)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[HTTP] encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	log.Printf("[HTTP] error %d: %s", status, message)
	json.NewEncoder(w).Encode(map[string]string{
		"error":     message,
		"errorCode": fmt.Sprintf("ERR_%d", status),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// respondOrchestratorError maps a bridge/bridgeerr sentinel to an HTTP
// status, falling back to 500 for anything unclassified.
func respondOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridgeerr.ErrUnknownDaemon):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, bridgeerr.ErrDaemonUnregistered), errors.Is(err, bridgeerr.ErrCancelled):
		respondError(w, http.StatusGone, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
