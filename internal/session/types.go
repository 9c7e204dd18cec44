package session

import "time"

// UnknownBranch labels sessions whose reporter did not supply a branch.
const UnknownBranch = "unknown"

// Session is one external-process conversation, keyed by the id the process
// itself reported.
type Session struct {
	ID               string    `json:"session_id"`
	WorkingDirectory string    `json:"working_directory"`
	Project          string    `json:"project"`
	Branch           string    `json:"branch"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	TurnCount        int       `json:"turn_count"`
}

// ShortID returns the first eight characters of the id for display.
func (s Session) ShortID() string {
	if len(s.ID) <= 8 {
		return s.ID
	}
	return s.ID[:8]
}

// Meta carries the optional labels supplied with a report.
type Meta struct {
	Project string `json:"project,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// View is the JSON shape returned by the sessions endpoint.
type View struct {
	Session
	Active bool `json:"active"`
}
