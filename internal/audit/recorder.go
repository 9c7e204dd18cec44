package audit

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/events"
	"github.com/ent0n29/turnstile/internal/logger"
)

// Recorder writes permission lifecycle events from the bus into a Store.
type Recorder struct {
	store Store
	bus   events.EventBus
	log   *logger.Logger

	mu  sync.Mutex
	sub events.Subscription
}

func NewRecorder(store Store, bus events.EventBus, log *logger.Logger) *Recorder {
	return &Recorder{store: store, bus: bus, log: logger.OrDefault(log)}
}

// Start subscribes to every permission subject. It is a no-op when already
// started.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return nil
	}
	sub, err := r.bus.Subscribe(events.SubjectPermissionsAll, r.handle)
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
		r.sub = nil
	}
}

func (r *Recorder) handle(ctx context.Context, ev *events.Event) error {
	entry := EntryFromEvent(ev)
	if err := r.store.Record(ctx, entry); err != nil {
		r.log.Warn("failed to record audit entry",
			zap.String("event", entry.Event),
			zap.String("request_id", entry.RequestID),
			zap.Error(err))
		return err
	}
	return nil
}

// EntryFromEvent maps a permission bus event onto an audit entry.
func EntryFromEvent(ev *events.Event) Entry {
	detail := ev.String("reason")
	if detail == "" {
		detail = ev.String("input_preview")
	}
	return Entry{
		ID:        ev.ID,
		Kind:      KindPermission,
		Event:     strings.TrimPrefix(ev.Type, "permission."),
		SessionID: ev.String("session_id"),
		RequestID: ev.String("request_id"),
		ToolName:  ev.String("tool_name"),
		Decision:  ev.String("decision"),
		Source:    ev.String("source"),
		Detail:    detail,
		CreatedAt: ev.Timestamp,
	}
}
