// Package console fans approval prompts, replies and notices out to the
// operator's websocket clients.
package console

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/apperrors"
	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/observability"
	"github.com/ent0n29/turnstile/internal/permission"
	"github.com/ent0n29/turnstile/internal/protocol"
)

const clientBuffer = 256

// Client is one connected console.
type Client struct {
	id  string
	out chan any
}

func (c *Client) ID() string { return c.id }

// Out delivers messages queued for this client. It is closed on Unregister.
func (c *Client) Out() <-chan any { return c.out }

func (c *Client) send(msg any) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// PendingSource lists unsettled approvals and attaches rendered-prompt
// handles to them. *permission.Broker implements it.
type PendingSource interface {
	Pending() []permission.Request
	AttachUIHandle(id, handle string) bool
}

// Hub tracks connected clients. It implements permission.Notifier and the
// execution Replier.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	pending PendingSource

	log     *logger.Logger
	metrics *observability.Metrics
}

func NewHub(log *logger.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     logger.OrDefault(log),
		metrics: metrics,
	}
}

// SetPendingSource sets where newly connected clients get still-pending
// requests from.
func (h *Hub) SetPendingSource(src PendingSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = src
}

// Register adds a client and queues the current pending approvals for it.
func (h *Hub) Register() *Client {
	c := &Client{id: uuid.NewString(), out: make(chan any, clientBuffer)}

	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	src := h.pending
	h.mu.Unlock()

	h.metrics.SetConsoleClients(n)
	h.log.Info("console client connected", zap.String("client_id", c.id), zap.Int("clients", n))

	if src != nil {
		c.send(protocol.PendingApprovals{Type: protocol.TypePendingApprovals, Approvals: h.replay(src)})
	}
	return c
}

// replay renders the pending approvals for a new client. A request that was
// never rendered gets a handle now so its settlement is announced; one that
// settles meanwhile is left out.
func (h *Hub) replay(src PendingSource) []protocol.ApprovalPrompt {
	reqs := src.Pending()
	approvals := make([]protocol.ApprovalPrompt, 0, len(reqs))
	for _, req := range reqs {
		handle := req.UIHandle
		if handle == "" {
			handle = uuid.NewString()
			if !src.AttachUIHandle(req.ID, handle) {
				continue
			}
		}
		approvals = append(approvals, ApprovalPromptFor(req, handle))
	}
	return approvals
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	close(c.out)
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetConsoleClients(n)
	h.log.Info("console client disconnected", zap.String("client_id", c.id), zap.Int("clients", n))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every client and returns how many accepted it.
// Clients with a full buffer miss the message.
func (h *Hub) Broadcast(msg any) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.clients {
		if c.send(msg) {
			delivered++
			continue
		}
		h.log.Warn("console client buffer full, dropping message", zap.String("client_id", c.id))
	}
	return delivered
}

// PromptApproval renders req on every client. With no client connected the
// request stays pending and is listed when one connects.
func (h *Hub) PromptApproval(_ context.Context, req permission.Request) (string, error) {
	handle := uuid.NewString()
	if h.Broadcast(ApprovalPromptFor(req, handle)) == 0 {
		return "", apperrors.New(apperrors.CodeNoOperator, "no operator console connected")
	}
	return handle, nil
}

func (h *Hub) MarkResolved(handle string, req permission.Request, res permission.Resolution) {
	h.Broadcast(protocol.ApprovalUpdate{
		Type:      protocol.TypeApprovalUpdate,
		RequestID: req.ID,
		Handle:    handle,
		State:     protocol.StateResolved,
		Decision:  string(res.Decision.Kind()),
		Reason:    res.Decision.Reason(),
	})
}

func (h *Hub) MarkExpired(handle string, req permission.Request) {
	h.Broadcast(protocol.ApprovalUpdate{
		Type:      protocol.TypeApprovalUpdate,
		RequestID: req.ID,
		Handle:    handle,
		State:     protocol.StateExpired,
		Decision:  string(permission.KindDeny),
		Reason:    permission.TimeoutReason,
	})
}

func (h *Hub) Reply(_ context.Context, text string) {
	h.Broadcast(protocol.NewReply(text))
}

func (h *Hub) Notice(_ context.Context, text string) {
	h.Broadcast(protocol.NewNotice(text))
}

// ApprovalPromptFor renders req as a console message.
func ApprovalPromptFor(req permission.Request, handle string) protocol.ApprovalPrompt {
	return protocol.ApprovalPrompt{
		Type:         protocol.TypeApprovalPrompt,
		RequestID:    req.ID,
		Handle:       handle,
		SessionID:    req.SessionID,
		ToolName:     req.ToolName,
		InputPreview: req.InputPreview,
		Risk:         string(req.Risk.Level),
		RiskReason:   req.Risk.Reason,
		ExpiresAt:    req.ExpiresAt,
	}
}
