// Package events provides the event bus that carries session reports and
// permission lifecycle notifications between components.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subjects.
const (
	SubjectSessionReported = "turnstile.sessions.reported"
	SubjectPermissions     = "turnstile.permissions"
	SubjectPermissionsAll  = "turnstile.permissions.>"
)

// PermissionSubject returns the subject for a permission lifecycle event.
func PermissionSubject(event string) string {
	return SubjectPermissions + "." + event
}

// Event is a message on the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates an event with a fresh id and the current time.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// String returns Data[key] as a string, or "".
func (e *Event) String(key string) string {
	if e == nil || e.Data == nil {
		return ""
	}
	v, _ := e.Data[key].(string)
	return v
}

// EventHandler handles one delivered event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus publishes events to subjects and delivers them to subscribers.
// Subjects use NATS token wildcards: * matches one token, > the rest.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}
