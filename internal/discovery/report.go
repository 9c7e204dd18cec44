// Package discovery turns hook notifications from the assistant process into
// tracked sessions.
package discovery

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Report is one session sighting.
type Report struct {
	SessionID        string `json:"session_id"`
	WorkingDirectory string `json:"cwd"`
	Branch           string `json:"branch,omitempty"`
	Project          string `json:"project,omitempty"`
	HookEvent        string `json:"hook_event_name,omitempty"`
}

// Field is a name/value pair in an embed-style notification.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type payload struct {
	Report
	Fields []Field `json:"fields"`
	Embeds []struct {
		Fields []Field `json:"fields"`
	} `json:"embeds"`
}

var (
	backtickValue = regexp.MustCompile("`([^`]+)`")
	resumeID      = regexp.MustCompile(`--resume\s+([a-f0-9-]+)`)
)

// Parse accepts either a structured hook payload or an embed-style one whose
// fields carry backtick-wrapped values. A report needs both a session id and
// a working directory.
func Parse(raw []byte) (Report, bool) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Report{}, false
	}

	fields := p.Fields
	for _, e := range p.Embeds {
		fields = append(fields, e.Fields...)
	}

	r := p.Report
	if len(fields) > 0 && strings.TrimSpace(r.SessionID) == "" {
		r = fromFields(fields, r.HookEvent)
	}

	r.SessionID = strings.TrimSpace(r.SessionID)
	r.WorkingDirectory = strings.TrimSpace(r.WorkingDirectory)
	r.Branch = strings.TrimSpace(r.Branch)
	r.Project = strings.TrimSpace(r.Project)
	if r.SessionID == "" || r.WorkingDirectory == "" {
		return Report{}, false
	}
	return r, true
}

func fromFields(fields []Field, hookEvent string) Report {
	r := Report{HookEvent: hookEvent}
	for _, f := range fields {
		value, ok := quoted(f.Value)
		if !ok {
			continue
		}
		switch {
		case strings.Contains(f.Name, "Session"):
			r.SessionID = strings.ReplaceAll(value, "...", "")
		case strings.Contains(f.Name, "Directory"):
			r.WorkingDirectory = value
		case strings.Contains(f.Name, "Branch"):
			r.Branch = value
		case strings.Contains(f.Name, "Project"):
			r.Project = value
		}
	}

	// The session field is usually truncated; the resume command has the
	// full id.
	for _, f := range fields {
		if !strings.Contains(f.Name, "Resume") {
			continue
		}
		if m := resumeID.FindStringSubmatch(f.Value); m != nil {
			r.SessionID = m[1]
		}
	}
	return r
}

func quoted(value string) (string, bool) {
	m := backtickValue.FindStringSubmatch(value)
	if m == nil {
		return "", false
	}
	return m[1], true
}
