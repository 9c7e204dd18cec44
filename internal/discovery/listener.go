package discovery

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/events"
	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/session"
)

const eventSource = "session-discovery"

// NewReportEvent wraps r for the session-reported subject.
func NewReportEvent(r Report) *events.Event {
	return events.NewEvent("session.reported", eventSource, map[string]any{
		"session_id":      r.SessionID,
		"cwd":             r.WorkingDirectory,
		"branch":          r.Branch,
		"project":         r.Project,
		"hook_event_name": r.HookEvent,
	})
}

// ReportFromEvent is the inverse of NewReportEvent.
func ReportFromEvent(ev *events.Event) Report {
	return Report{
		SessionID:        ev.String("session_id"),
		WorkingDirectory: ev.String("cwd"),
		Branch:           ev.String("branch"),
		Project:          ev.String("project"),
		HookEvent:        ev.String("hook_event_name"),
	}
}

// Listener tracks every session reported on the bus.
type Listener struct {
	bus      events.EventBus
	registry *session.Registry
	log      *logger.Logger

	mu  sync.Mutex
	sub events.Subscription
}

func NewListener(bus events.EventBus, registry *session.Registry, log *logger.Logger) *Listener {
	return &Listener{bus: bus, registry: registry, log: logger.OrDefault(log)}
}

func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		return nil
	}
	sub, err := l.bus.Subscribe(events.SubjectSessionReported, l.handle)
	if err != nil {
		return err
	}
	l.sub = sub
	return nil
}

func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		_ = l.sub.Unsubscribe()
		l.sub = nil
	}
}

func (l *Listener) handle(_ context.Context, ev *events.Event) error {
	r := ReportFromEvent(ev)
	if r.SessionID == "" || r.WorkingDirectory == "" {
		l.log.Warn("ignoring incomplete session report", zap.String("event_id", ev.ID))
		return nil
	}
	s := l.registry.Track(r.SessionID, r.WorkingDirectory, session.Meta{Project: r.Project, Branch: r.Branch})
	l.log.Info("session tracked",
		zap.String("session_id", s.ShortID()),
		zap.String("cwd", s.WorkingDirectory),
		zap.String("branch", s.Branch),
		zap.String("hook_event", r.HookEvent))
	return nil
}
