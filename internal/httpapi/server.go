package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/apperrors"
	"github.com/ent0n29/turnstile/internal/audit"
	"github.com/ent0n29/turnstile/internal/config"
	"github.com/ent0n29/turnstile/internal/console"
	"github.com/ent0n29/turnstile/internal/events"
	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/observability"
	"github.com/ent0n29/turnstile/internal/permission"
	"github.com/ent0n29/turnstile/internal/relay"
)

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Config  config.Config
	Broker  *permission.Broker
	Relay   *relay.Relay
	Hub     *console.Hub
	Bus     events.EventBus
	Audit   audit.Store
	Metrics *observability.Metrics
	Logger  *logger.Logger
}

type Server struct {
	cfg      config.Config
	broker   *permission.Broker
	relay    *relay.Relay
	hub      *console.Hub
	bus      events.EventBus
	audit    audit.Store
	metrics  *observability.Metrics
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func New(deps Deps) *Server {
	cfg := deps.Config
	return &Server{
		cfg:     cfg,
		broker:  deps.Broker,
		relay:   deps.Relay,
		hub:     deps.Hub,
		bus:     deps.Bus,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		log:     logger.OrDefault(deps.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireHookSecret)
		r.Post("/v1/hooks/pre-tool-use", s.handlePreToolUse)
		r.Post("/v1/hooks/session", s.handleSessionReport)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireOperator)
		r.Get("/v1/console/ws", s.handleConsoleWS)
		r.Get("/v1/status", s.handleStatus)
		r.Get("/v1/sessions", s.handleListSessions)
		r.Get("/v1/queue", s.handleViewQueue)
		r.Post("/v1/commands", s.handleCommand)
		r.Get("/v1/permissions/pending", s.handlePendingPermissions)
		r.Post("/v1/permissions/{id}/decision", s.handlePermissionDecision)
		r.Get("/v1/audit", s.handleAudit)
		r.Get("/v1/perf/latency", s.handlePerfLatency)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"console_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.bus != nil && !s.bus.IsConnected() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"reason": "event bus disconnected",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"audit_mode": s.auditMode(),
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := logger.WithRequestID(r.Context(), reqID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		s.log.WithContext(ctx).Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(started)))
	})
}

// requireOperator accepts the operator token as a bearer token, or as the
// token query parameter for browser websocket clients.
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		if !tokenMatches(token, s.cfg.OperatorToken) {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "operator token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tokenMatches(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondAppError renders a coded error with its matching status.
func respondAppError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	respondError(w, statusFor(code), string(code), apperrors.Message(err))
}

func statusFor(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidInput, apperrors.CodeMalformedRequest:
		return http.StatusBadRequest
	case apperrors.CodeNotFound, apperrors.CodeUnknownRequest:
		return http.StatusNotFound
	case apperrors.CodeNoActiveSession:
		return http.StatusConflict
	case apperrors.CodeLocked:
		return http.StatusLocked
	case apperrors.CodeCapacity:
		return http.StatusTooManyRequests
	case apperrors.CodeNoOperator:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) auditMode() string {
	switch s.audit.(type) {
	case nil:
		return "disabled"
	case *audit.PostgresStore:
		return "postgres"
	default:
		return "in-memory"
	}
}
