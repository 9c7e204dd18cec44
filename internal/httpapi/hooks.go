package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/discovery"
	"github.com/ent0n29/turnstile/internal/events"
	"github.com/ent0n29/turnstile/internal/hookclient"
	"github.com/ent0n29/turnstile/internal/permission"
)

const maxBodyBytes = 2 << 20

// preToolUseInput is the hook payload the assistant sends before a tool runs.
type preToolUseInput struct {
	SessionID     string          `json:"session_id"`
	ToolName      string          `json:"tool_name"`
	ToolInput     json.RawMessage `json:"tool_input"`
	Cwd           string          `json:"cwd"`
	HookEventName string          `json:"hook_event_name"`
	RequestID     string          `json:"request_id"`
}

// requireHookSecret checks the shared hook secret when one is configured.
func (s *Server) requireHookSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.HookSecret != "" && !tokenMatches(r.Header.Get(hookclient.HeaderHookSecret), s.cfg.HookSecret) {
			s.metrics.ObserveHook(routeName(r), "unauthorized")
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "hook secret mismatch")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handlePreToolUse is the authorization callback. It always answers 200
// with a decision envelope; malformed bodies are denied without creating a
// pending request.
func (s *Server) handlePreToolUse(w http.ResponseWriter, r *http.Request) {
	var in preToolUseInput
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err == nil {
		err = json.Unmarshal(raw, &in)
	}
	in.ToolName = strings.TrimSpace(in.ToolName)
	if err != nil || in.ToolName == "" {
		s.metrics.ObserveHook("pre_tool_use", "malformed")
		s.metrics.ObservePermission(string(permission.KindDeny), string(permission.SourceMalformed), 0)
		s.log.WithContext(r.Context()).Warn("hook rejected as malformed", zap.Bool("decode_error", err != nil))
		respondJSON(w, http.StatusOK, permission.Deny("Malformed authorization request").Envelope())
		return
	}

	decision := s.broker.Authorize(r.Context(), permission.Request{
		ID:               strings.TrimSpace(in.RequestID),
		SessionID:        strings.TrimSpace(in.SessionID),
		ToolName:         in.ToolName,
		ToolInput:        in.ToolInput,
		WorkingDirectory: strings.TrimSpace(in.Cwd),
	})
	s.metrics.ObserveHook("pre_tool_use", string(decision.Kind()))
	respondJSON(w, http.StatusOK, decision.Envelope())
}

// handleSessionReport publishes a session sighting for discovery.
func (s *Server) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.metrics.ObserveHook("session_report", "malformed")
		respondError(w, http.StatusBadRequest, "MALFORMED_REQUEST", err.Error())
		return
	}
	report, ok := discovery.Parse(raw)
	if !ok {
		s.metrics.ObserveHook("session_report", "malformed")
		respondError(w, http.StatusBadRequest, "MALFORMED_REQUEST", "session_id and cwd are required")
		return
	}

	if err := s.bus.Publish(r.Context(), events.SubjectSessionReported, discovery.NewReportEvent(report)); err != nil {
		s.metrics.ObserveHook("session_report", "publish_failed")
		s.log.WithContext(r.Context()).Error("failed to publish session report", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "INTERNAL_ERROR", "could not publish session report")
		return
	}
	s.metrics.ObserveHook("session_report", "accepted")
	respondJSON(w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"session_id": report.SessionID,
	})
}

func routeName(r *http.Request) string {
	switch r.URL.Path {
	case hookclient.PathPreToolUse:
		return "pre_tool_use"
	case hookclient.PathSessionReport:
		return "session_report"
	default:
		return "unknown"
	}
}
