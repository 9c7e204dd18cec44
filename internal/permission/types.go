package permission

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ent0n29/turnstile/internal/policy"
)

var ErrUnknownRequest = errors.New("permission request not pending")

// Source records what produced a decision.
type Source string

const (
	SourceSafeTool  Source = "safe_tool"
	SourceAllowlist Source = "allowlist"
	SourceOperator  Source = "operator"
	SourceTimeout   Source = "timeout"
	SourceCancelled Source = "cancelled"
	SourceShutdown  Source = "shutdown"
	SourceMalformed Source = "malformed"
)

// Request is an authorization request for one tool invocation.
type Request struct {
	ID               string          `json:"request_id"`
	SessionID        string          `json:"session_id"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"-"`
	WorkingDirectory string          `json:"working_directory,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
	UIHandle         string          `json:"ui_handle,omitempty"`
	Risk             policy.Risk     `json:"risk"`
	InputPreview     string          `json:"input_preview"`
}

// Resolution is what a response sink receives, exactly once per request.
type Resolution struct {
	Decision   Decision  `json:"decision"`
	Source     Source    `json:"source"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Sink consumes the resolution of a pending request.
type Sink func(Resolution)

// Notifier is the UI channel that renders approval prompts and edits them
// once a request settles.
type Notifier interface {
	// PromptApproval renders req and returns a handle to the rendered prompt.
	PromptApproval(ctx context.Context, req Request) (handle string, err error)
	// MarkResolved updates the prompt after an explicit decision.
	MarkResolved(handle string, req Request, res Resolution)
	// MarkExpired updates the prompt after the deadline passed.
	MarkExpired(handle string, req Request)
}

// ActionKind is one of the operator's four choices on an approval prompt.
type ActionKind string

const (
	ActionAllow    ActionKind = "allow"
	ActionDeny     ActionKind = "deny"
	ActionAllowAll ActionKind = "allow_all"
	ActionModify   ActionKind = "modify"
)

// Action is an operator response to a prompt.
type Action struct {
	Kind         ActionKind      `json:"action"`
	UpdatedInput json.RawMessage `json:"updated_input,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

type noopNotifier struct{}

func (noopNotifier) PromptApproval(context.Context, Request) (string, error) { return "", nil }
func (noopNotifier) MarkResolved(string, Request, Resolution)               {}
func (noopNotifier) MarkExpired(string, Request)                            {}
