package policy

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskBlocked RiskLevel = "blocked"
)

// Risk is an informational label shown next to an approval prompt. It never
// changes the outcome of an authorization request.
type Risk struct {
	Level  RiskLevel `json:"level"`
	Reason string    `json:"reason,omitempty"`
}

var defaultSafeTools = []string{
	"Glob",
	"Grep",
	"LS",
	"NotebookRead",
	"Read",
	"TodoRead",
	"TodoWrite",
	"WebSearch",
}

// DefaultSafeTools returns the side-effect-free tool names that are always
// allowed.
func DefaultSafeTools() []string {
	out := make([]string, len(defaultSafeTools))
	copy(out, defaultSafeTools)
	return out
}

// ToolSet is an immutable set of tool names.
type ToolSet map[string]struct{}

// NewToolSet builds a set from names, falling back to DefaultSafeTools when
// names is empty.
func NewToolSet(names []string) ToolSet {
	if len(names) == 0 {
		names = defaultSafeTools
	}
	set := make(ToolSet, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func (s ToolSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

func (s ToolSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

var (
	blockedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+-(?:rf|fr)\s+(?:/|~|\$HOME)(?:\s|$)`),
		regexp.MustCompile(`(?i)\b(sudo\s+)?cat\s+.*(?:id_rsa|id_ed25519|\.env|auth\.json|credentials)`),
		regexp.MustCompile(`(?i)\bcurl\b.*\|\s*(?:ba|z)?sh\b`),
		regexp.MustCompile(`(?i)\b(?:mkfs|dd\s+if=)`),
		regexp.MustCompile(`(?i)\bgit\s+push\b.*--force\b.*\b(?:main|master)\b`),
	}
	highRiskKeywords = []string{
		"rm ", "delete", "drop ", "truncate", "wipe", "destroy",
		"shutdown", "reboot", "kill", "chmod", "chown", "sudo",
		"install", "uninstall", "deploy", "git push", "merge", "migrate",
	}
	mutatingTools = map[string]RiskLevel{
		"Bash":         RiskMedium,
		"Write":        RiskMedium,
		"Edit":         RiskMedium,
		"MultiEdit":    RiskMedium,
		"NotebookEdit": RiskMedium,
		"WebFetch":     RiskLow,
	}
)

// ClassifyTool labels a tool invocation by risk.
func ClassifyTool(toolName string, input json.RawMessage) Risk {
	text := strings.ToLower(inputText(input))

	for _, re := range blockedPatterns {
		if re.MatchString(text) {
			return Risk{Level: RiskBlocked, Reason: "Invocation looks destructive or exposes secrets."}
		}
	}
	if NewToolSet(nil).Contains(toolName) {
		return Risk{Level: RiskLow}
	}
	for _, kw := range highRiskKeywords {
		if strings.Contains(text, kw) {
			return Risk{Level: RiskHigh, Reason: "Invocation mentions " + strings.TrimSpace(kw) + "."}
		}
	}
	if level, ok := mutatingTools[toolName]; ok {
		return Risk{Level: level}
	}
	if strings.HasPrefix(toolName, "mcp__") {
		return Risk{Level: RiskMedium, Reason: "External MCP tool."}
	}
	return Risk{Level: RiskMedium}
}

// inputText flattens the interesting string fields of a tool payload.
func inputText(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return string(input)
	}
	var parts []string
	for _, key := range []string{"command", "file_path", "path", "url", "content", "new_string"} {
		if v, ok := fields[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return string(input)
	}
	return strings.Join(parts, "\n")
}
