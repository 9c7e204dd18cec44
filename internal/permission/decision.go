package permission

import (
	"bytes"
	"encoding/json"
)

// Kind tags a Decision.
type Kind string

const (
	KindAllow         Kind = "allow"
	KindDeny          Kind = "deny"
	KindAllowModified Kind = "allow_modified"
)

// Decision is the closed set of outcomes for an authorization request. Build
// one with Allow, Deny or AllowModified.
type Decision struct {
	kind         Kind
	reason       string
	updatedInput json.RawMessage
}

func Allow(reason string) Decision {
	return Decision{kind: KindAllow, reason: reason}
}

func Deny(reason string) Decision {
	return Decision{kind: KindDeny, reason: reason}
}

// AllowModified allows the tool call with input replaced by updatedInput.
func AllowModified(updatedInput json.RawMessage, reason string) Decision {
	cp := make(json.RawMessage, len(updatedInput))
	copy(cp, updatedInput)
	return Decision{kind: KindAllowModified, reason: reason, updatedInput: cp}
}

func (d Decision) Kind() Kind {
	if d.kind == "" {
		return KindDeny
	}
	return d.kind
}

func (d Decision) Reason() string                { return d.reason }
func (d Decision) UpdatedInput() json.RawMessage { return d.updatedInput }

// Allowed reports whether the tool call may proceed.
func (d Decision) Allowed() bool {
	k := d.Kind()
	return k == KindAllow || k == KindAllowModified
}

// HookOutput is the hookSpecificOutput object returned to the assistant.
type HookOutput struct {
	HookEventName            string          `json:"hookEventName"`
	PermissionDecision       string          `json:"permissionDecision"`
	PermissionDecisionReason string          `json:"permissionDecisionReason,omitempty"`
	UpdatedInput             json.RawMessage `json:"updatedInput,omitempty"`
}

// Envelope is the authorization callback response body.
type Envelope struct {
	HookSpecificOutput HookOutput `json:"hookSpecificOutput"`
}

// Envelope renders the wire response for d.
func (d Decision) Envelope() Envelope {
	out := HookOutput{
		HookEventName:            "PreToolUse",
		PermissionDecision:       string(KindDeny),
		PermissionDecisionReason: d.reason,
	}
	if d.Allowed() {
		out.PermissionDecision = string(KindAllow)
	}
	if d.Kind() == KindAllowModified {
		out.UpdatedInput = d.updatedInput
	}
	return Envelope{HookSpecificOutput: out}
}

// Decision reconstructs the tagged variant from a wire envelope.
func (e Envelope) Decision() Decision {
	out := e.HookSpecificOutput
	if out.PermissionDecision != string(KindAllow) {
		return Deny(out.PermissionDecisionReason)
	}
	if len(out.UpdatedInput) > 0 && !bytes.Equal(bytes.TrimSpace(out.UpdatedInput), []byte("null")) {
		return AllowModified(out.UpdatedInput, out.PermissionDecisionReason)
	}
	return Allow(out.PermissionDecisionReason)
}

// MarshalJSON encodes d as {"kind","reason","updated_input"} for events and
// the audit trail.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind         Kind            `json:"kind"`
		Reason       string          `json:"reason,omitempty"`
		UpdatedInput json.RawMessage `json:"updated_input,omitempty"`
	}{d.Kind(), d.reason, d.updatedInput})
}

// ValidObject reports whether raw is a well-formed JSON object.
func ValidObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return false
	}
	return true
}
