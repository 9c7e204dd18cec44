package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/turnstile/internal/protocol"
)

type commandRequest struct {
	Text string `json:"text"`
}

type commandResponse struct {
	Reply string `json:"reply"`
}

type decisionRequest struct {
	Action       string          `json:"action"`
	UpdatedInput json.RawMessage `json:"updated_input,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

func (s *Server) handleConsoleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Serve(r.Context(), conn, s.relay)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.relay.Status())
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.relay.ListSessions()})
}

func (s *Server) handleViewQueue(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.relay.ViewQueue())
}

// handleCommand runs one line of operator input through the same dispatcher
// the console uses.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "text is required")
		return
	}
	reply, err := s.relay.HandleMessage(r.Context(), req.Text)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, commandResponse{Reply: reply})
}

func (s *Server) handlePendingPermissions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"pending": s.broker.Pending()})
}

func (s *Server) handlePermissionDecision(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			err = errors.New("action is required")
		}
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	res, err := s.relay.Decide(protocol.PermissionAction{
		Type:         protocol.TypePermissionAction,
		RequestID:    id,
		Action:       strings.ToLower(strings.TrimSpace(req.Action)),
		UpdatedInput: req.UpdatedInput,
		Reason:       req.Reason,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"request_id": id,
		"resolution": res,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		respondError(w, http.StatusNotImplemented, "INTERNAL_ERROR", "audit store not configured")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
