package agent

import (
	"encoding/json"
	"strings"
)

// ParseOutput extracts the reply from the CLI's JSON output. The text is the
// result field, else the joined text content blocks, else raw stdout.
// Non-JSON output is returned trimmed.
func ParseOutput(stdout, requestedSessionID string) Result {
	obj, ok := parseJSONObject(stdout)
	if !ok {
		text := strings.TrimSpace(stdout)
		if text == "" {
			text = emptyResponse
		}
		return Result{Text: text, SessionID: requestedSessionID}
	}

	text := pickStringField(obj, "result")
	if text == "" {
		text = joinTextContent(obj["content"])
	}
	if text == "" {
		text = stdout
	}

	sessionID := pickStringField(obj, "session_id")
	if sessionID == "" {
		sessionID = requestedSessionID
	}
	return Result{Text: text, SessionID: sessionID, Raw: obj}
}

func joinTextContent(v any) string {
	blocks, ok := v.([]any)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, item := range blocks {
		block, ok := item.(map[string]any)
		if !ok || block["type"] != "text" {
			continue
		}
		if s, ok := block["text"].(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func pickStringField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func parseJSONObject(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj, true
	}

	// Some wrappers log before the JSON document. Parse from the last
	// line that opens an object.
	if start := strings.LastIndex(raw, "\n{"); start >= 0 {
		if err := json.Unmarshal([]byte(raw[start+1:]), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}
