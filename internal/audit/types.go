// Package audit keeps an append-only history of permission decisions and
// turns. Nothing in the orchestrator reads it back into live state.
package audit

import (
	"context"
	"time"
)

// Kind groups audit entries.
type Kind string

const (
	KindPermission Kind = "permission"
	KindTurn       Kind = "turn"
)

// Entry is one audit record.
type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Event     string    `json:"event"`
	SessionID string    `json:"session_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Source    string    `json:"source,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists audit entries.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
