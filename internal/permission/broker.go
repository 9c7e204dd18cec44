// Package permission correlates authorization callbacks from the assistant
// with operator decisions, resolving each request exactly once.
package permission

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/apperrors"
	"github.com/ent0n29/turnstile/internal/clock"
	"github.com/ent0n29/turnstile/internal/events"
	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/observability"
	"github.com/ent0n29/turnstile/internal/policy"
	"github.com/ent0n29/turnstile/internal/tracing"
)

const (
	DefaultTimeout    = 10 * time.Minute
	inputPreviewRunes = 500
	eventSource       = "permission-broker"

	// TimeoutReason is the deny reason given when the deadline passes.
	TimeoutReason = "Timed out waiting for operator approval"
)

// Options configures a Broker. Zero values pick the defaults.
type Options struct {
	Timeout   time.Duration
	SafeTools []string
	Clock     clock.Clock
	Notifier  Notifier
	Bus       events.EventBus
	Logger    *logger.Logger
	Metrics   *observability.Metrics
}

type pendingEntry struct {
	req   Request
	sink  Sink
	timer clock.Timer
}

// Broker owns the pending-request map and the per-session tool allow-list.
type Broker struct {
	mu        sync.Mutex
	pending   map[string]*pendingEntry
	allowlist map[string]map[string]struct{}

	notifierMu sync.RWMutex
	notifier   Notifier

	timeout   time.Duration
	safeTools policy.ToolSet
	clock     clock.Clock
	bus       events.EventBus
	log       *logger.Logger
	metrics   *observability.Metrics
}

func NewBroker(opts Options) *Broker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	return &Broker{
		pending:   make(map[string]*pendingEntry),
		allowlist: make(map[string]map[string]struct{}),
		notifier:  opts.Notifier,
		timeout:   opts.Timeout,
		safeTools: policy.NewToolSet(opts.SafeTools),
		clock:     clock.OrReal(opts.Clock),
		bus:       opts.Bus,
		log:       logger.OrDefault(opts.Logger),
		metrics:   opts.Metrics,
	}
}

// SetNotifier swaps the UI channel.
func (b *Broker) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	b.notifierMu.Lock()
	b.notifier = n
	b.notifierMu.Unlock()
}

func (b *Broker) ui() Notifier {
	b.notifierMu.RLock()
	defer b.notifierMu.RUnlock()
	return b.notifier
}

// Timeout returns the pending-request deadline.
func (b *Broker) Timeout() time.Duration {
	return b.timeout
}

// SafeTools returns the base-safe tool names.
func (b *Broker) SafeTools() []string {
	return b.safeTools.Names()
}

// IsSafeTool reports whether toolName is always allowed.
func (b *Broker) IsSafeTool(toolName string) bool {
	return b.safeTools.Contains(toolName)
}

// Authorize answers one authorization callback. Base-safe tools and tools
// already allowed for the session are allowed without creating a request.
// Otherwise a pending request is created, the operator is prompted, and the
// call blocks until the request resolves. Cancelling ctx resolves it as Deny.
func (b *Broker) Authorize(ctx context.Context, req Request) Decision {
	ctx, span := tracing.Start(ctx, "permission.authorize",
		attribute.String("session.id", req.SessionID),
		attribute.String("tool.name", req.ToolName))
	defer span.End()

	if b.IsSafeTool(req.ToolName) {
		return b.fastPath(req, Allow("Read-only tool"), SourceSafeTool)
	}
	if b.IsToolAllowed(req.SessionID, req.ToolName) {
		return b.fastPath(req, Allow("Allowed for this session"), SourceAllowlist)
	}

	results := make(chan Resolution, 1)
	id := b.CreateRequest(req, func(res Resolution) { results <- res })
	snapshot, ok := b.Get(id)
	if !ok {
		return (<-results).Decision
	}

	handle, err := b.ui().PromptApproval(ctx, snapshot)
	if err != nil {
		b.log.Warn("approval prompt not delivered",
			zap.String("request_id", id),
			zap.String("code", string(apperrors.CodeOf(err))),
			zap.Error(err))
	}
	if handle != "" && !b.AttachUIHandle(id, handle) {
		// Settled while the prompt was being rendered.
		res := <-results
		snapshot.UIHandle = handle
		b.notifySettled(snapshot, res)
		span.SetAttributes(attribute.String("permission.source", string(res.Source)))
		return res.Decision
	}

	select {
	case res := <-results:
		span.SetAttributes(attribute.String("permission.source", string(res.Source)))
		return res.Decision
	case <-ctx.Done():
		b.resolve(id, Deny("Authorization request cancelled"), SourceCancelled)
		res := <-results
		span.SetAttributes(attribute.String("permission.source", string(res.Source)))
		return res.Decision
	}
}

func (b *Broker) fastPath(req Request, d Decision, source Source) Decision {
	b.metrics.ObservePermission(string(d.Kind()), "fast_path", 0)
	b.log.Debug("permission fast-pathed",
		zap.String("session_id", req.SessionID),
		zap.String("tool_name", req.ToolName),
		zap.String("source", string(source)))
	b.publish("fast_path", req, map[string]any{
		"decision": string(d.Kind()),
		"source":   string(source),
	})
	return d
}

// CreateRequest registers a pending request with a deadline and returns its
// id. A blank req.ID gets a generated one; caller-supplied ids are assumed
// unique.
func (b *Broker) CreateRequest(req Request, sink Sink) string {
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}
	now := b.clock.Now()
	req.CreatedAt = now
	req.ExpiresAt = now.Add(b.timeout)
	req.UIHandle = ""
	req.Risk = policy.ClassifyTool(req.ToolName, req.ToolInput)
	req.InputPreview = policy.Preview(string(req.ToolInput), inputPreviewRunes)
	if sink == nil {
		sink = func(Resolution) {}
	}

	id := req.ID
	b.mu.Lock()
	entry := &pendingEntry{req: req, sink: sink}
	b.pending[id] = entry
	entry.timer = b.clock.AfterFunc(b.timeout, func() { b.expire(id) })
	depth := len(b.pending)
	b.mu.Unlock()

	b.metrics.SetPendingPermissions(depth)
	b.log.Info("permission requested",
		zap.String("request_id", id),
		zap.String("session_id", req.SessionID),
		zap.String("tool_name", req.ToolName),
		zap.String("risk", string(req.Risk.Level)))
	b.publish("requested", req, map[string]any{
		"input_preview": req.InputPreview,
		"risk":          string(req.Risk.Level),
		"expires_at":    req.ExpiresAt.Format(time.RFC3339),
	})
	return id
}

// ResolveRequest settles a pending request with an explicit decision. It
// returns false, with no side effect, when id is not pending.
func (b *Broker) ResolveRequest(id string, d Decision) bool {
	_, ok := b.resolve(id, d, SourceOperator)
	return ok
}

// AttachUIHandle records the rendered-prompt handle on a still-pending
// request. It returns false if the request already settled.
func (b *Broker) AttachUIHandle(id, handle string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.pending[id]
	if !ok {
		return false
	}
	entry.req.UIHandle = handle
	return true
}

// HandleAction turns an operator action into a resolution. Modify with data
// that is not a JSON object is treated as Deny. Allow All adds the tool to
// the session's allow-list before the decision is delivered.
func (b *Broker) HandleAction(id string, action Action) (Resolution, error) {
	var (
		d        Decision
		allowAll bool
	)
	switch action.Kind {
	case ActionAllow:
		d = Allow(orDefault(action.Reason, "Approved by operator"))
	case ActionDeny:
		d = Deny(orDefault(action.Reason, "Denied by operator"))
	case ActionAllowAll:
		d = Allow(orDefault(action.Reason, "Approved for the rest of this session"))
		allowAll = true
	case ActionModify:
		if ValidObject(action.UpdatedInput) {
			d = AllowModified(action.UpdatedInput, orDefault(action.Reason, "Approved with modified input"))
		} else {
			d = Deny("Modified input was not a valid JSON object")
		}
	default:
		return Resolution{}, apperrors.Newf(apperrors.CodeInvalidInput, "unknown action %q", action.Kind)
	}

	entry, ok := b.take(id)
	if !ok {
		return Resolution{}, apperrors.Wrap(ErrUnknownRequest, apperrors.CodeUnknownRequest, "request "+id+" is not pending")
	}
	if allowAll {
		b.AllowTool(entry.req.SessionID, entry.req.ToolName)
	}
	return b.deliver(entry, d, SourceOperator), nil
}

// Get returns a snapshot of a pending request.
func (b *Broker) Get(id string) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.pending[id]
	if !ok {
		return Request{}, false
	}
	return entry.req, true
}

// Pending returns snapshots of all pending requests, oldest first.
func (b *Broker) Pending() []Request {
	b.mu.Lock()
	out := make([]Request, 0, len(b.pending))
	for _, entry := range b.pending {
		out = append(out, entry.req)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// IsToolAllowed reports whether toolName was allowed for every future use
// in sessionID.
func (b *Broker) IsToolAllowed(sessionID, toolName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.allowlist[sessionID][toolName]
	return ok
}

// AllowTool remembers an allow-all decision for (sessionID, toolName).
func (b *Broker) AllowTool(sessionID, toolName string) {
	b.mu.Lock()
	tools, ok := b.allowlist[sessionID]
	if !ok {
		tools = make(map[string]struct{})
		b.allowlist[sessionID] = tools
	}
	tools[toolName] = struct{}{}
	b.mu.Unlock()
	b.log.Info("tool allowed for session", zap.String("session_id", sessionID), zap.String("tool_name", toolName))
}

// AllowedTools returns the sorted allow-list of sessionID.
func (b *Broker) AllowedTools(sessionID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	tools := b.allowlist[sessionID]
	out := make([]string, 0, len(tools))
	for name := range tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ClearSession forgets the allow-list of sessionID.
func (b *Broker) ClearSession(sessionID string) {
	b.mu.Lock()
	delete(b.allowlist, sessionID)
	b.mu.Unlock()
}

// ClearAll forgets every allow-list.
func (b *Broker) ClearAll() {
	b.mu.Lock()
	b.allowlist = make(map[string]map[string]struct{})
	b.mu.Unlock()
}

// Shutdown denies every pending request so blocked callers return.
func (b *Broker) Shutdown() int {
	b.mu.Lock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	n := 0
	for _, id := range ids {
		if _, ok := b.resolve(id, Deny("Service shutting down"), SourceShutdown); ok {
			n++
		}
	}
	return n
}

// take removes and returns a pending entry in one step. Only the first
// caller for a given id observes it.
func (b *Broker) take(id string) (*pendingEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.pending[id]
	if !ok {
		return nil, false
	}
	delete(b.pending, id)
	return entry, true
}

func (b *Broker) resolve(id string, d Decision, source Source) (Resolution, bool) {
	entry, ok := b.take(id)
	if !ok {
		return Resolution{}, false
	}
	return b.deliver(entry, d, source), true
}

func (b *Broker) expire(id string) {
	entry, ok := b.take(id)
	if !ok {
		return
	}
	b.deliver(entry, Deny(TimeoutReason), SourceTimeout)
}

// deliver completes a taken entry: it stops the timer, calls the sink and
// updates the UI. It must only be called with an entry returned by take.
func (b *Broker) deliver(entry *pendingEntry, d Decision, source Source) Resolution {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	now := b.clock.Now()
	res := Resolution{Decision: d, Source: source, ResolvedAt: now}
	entry.sink(res)

	b.mu.Lock()
	depth := len(b.pending)
	b.mu.Unlock()

	wait := now.Sub(entry.req.CreatedAt)
	b.metrics.SetPendingPermissions(depth)
	b.metrics.ObservePermission(string(d.Kind()), string(source), wait)

	event := "resolved"
	if source == SourceTimeout {
		event = "expired"
	}
	b.log.Info("permission "+event,
		zap.String("request_id", entry.req.ID),
		zap.String("session_id", entry.req.SessionID),
		zap.String("tool_name", entry.req.ToolName),
		zap.String("decision", string(d.Kind())),
		zap.String("source", string(source)),
		zap.Duration("wait", wait))
	b.publish(event, entry.req, map[string]any{
		"decision": string(d.Kind()),
		"reason":   d.Reason(),
		"source":   string(source),
		"wait_ms":  wait.Milliseconds(),
	})

	if entry.req.UIHandle != "" {
		b.notifySettled(entry.req, res)
	}
	return res
}

func (b *Broker) notifySettled(req Request, res Resolution) {
	ui := b.ui()
	if res.Source == SourceTimeout {
		ui.MarkExpired(req.UIHandle, req)
		return
	}
	ui.MarkResolved(req.UIHandle, req, res)
}

func (b *Broker) publish(event string, req Request, extra map[string]any) {
	if b.bus == nil {
		return
	}
	data := map[string]any{
		"request_id": req.ID,
		"session_id": req.SessionID,
		"tool_name":  req.ToolName,
	}
	for k, v := range extra {
		data[k] = v
	}
	subject := events.PermissionSubject(event)
	if err := b.bus.Publish(context.Background(), subject, events.NewEvent("permission."+event, eventSource, data)); err != nil {
		b.log.Warn("failed to publish permission event", zap.String("subject", subject), zap.Error(err))
	}
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
