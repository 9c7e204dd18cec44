// Package protocol defines the operator console websocket messages.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeOperatorMessage  MessageType = "operator_message"
	TypePermissionAction MessageType = "permission_action"

	TypeReply            MessageType = "reply"
	TypeNotice           MessageType = "notice"
	TypeApprovalPrompt   MessageType = "approval_prompt"
	TypeApprovalUpdate   MessageType = "approval_update"
	TypePendingApprovals MessageType = "pending_approvals"
	TypeErrorEvent       MessageType = "error_event"
)

// Approval update states.
const (
	StateResolved = "resolved"
	StateExpired  = "expired"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// OperatorMessage is free text: a !command or a prompt for the active session.
type OperatorMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// PermissionAction answers an approval prompt.
type PermissionAction struct {
	Type         MessageType     `json:"type"`
	RequestID    string          `json:"request_id"`
	Action       string          `json:"action"`
	UpdatedInput json.RawMessage `json:"updated_input,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

type Reply struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
	TSMs int64       `json:"ts_ms"`
}

type Notice struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
	TSMs int64       `json:"ts_ms"`
}

type ApprovalPrompt struct {
	Type         MessageType `json:"type"`
	RequestID    string      `json:"request_id"`
	Handle       string      `json:"handle"`
	SessionID    string      `json:"session_id"`
	ToolName     string      `json:"tool_name"`
	InputPreview string      `json:"input_preview"`
	Risk         string      `json:"risk"`
	RiskReason   string      `json:"risk_reason,omitempty"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

type ApprovalUpdate struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Handle    string      `json:"handle"`
	State     string      `json:"state"`
	Decision  string      `json:"decision"`
	Reason    string      `json:"reason,omitempty"`
}

type PendingApprovals struct {
	Type      MessageType      `json:"type"`
	Approvals []ApprovalPrompt `json:"approvals"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

func NewReply(text string) Reply {
	return Reply{Type: TypeReply, Text: text, TSMs: time.Now().UnixMilli()}
}

func NewNotice(text string) Notice {
	return Notice{Type: TypeNotice, Text: text, TSMs: time.Now().UnixMilli()}
}

func NewErrorEvent(code, detail string) ErrorEvent {
	return ErrorEvent{Type: TypeErrorEvent, Code: code, Detail: detail}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeOperatorMessage:
		var msg OperatorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid operator_message")
		}
		return msg, nil
	case TypePermissionAction:
		var msg PermissionAction
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.RequestID = strings.TrimSpace(msg.RequestID)
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		if msg.RequestID == "" || msg.Action == "" {
			return nil, errors.New("invalid permission_action")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
