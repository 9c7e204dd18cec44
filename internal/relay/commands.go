package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/turnstile/internal/permission"
)

type command func(r *Relay, args string) (string, error)

var commands = map[string]command{
	"!help":     func(r *Relay, _ string) (string, error) { return r.Help(), nil },
	"!status":   (*Relay).statusText,
	"!sessions": (*Relay).sessionsText,
	"!switch":   (*Relay).switchText,
	"!clear":    (*Relay).clearText,
	"!queue":    (*Relay).queueText,
	"!cancel":   (*Relay).cancelText,
	"!stop":     (*Relay).stopText,
	"!lock":     (*Relay).lockText,
	"!unlock":   (*Relay).unlockText,
	"!tools":    (*Relay).toolsText,
	"!pending":  (*Relay).pendingText,
}

// Commands admitted while the gate is locked.
var lockedCommands = map[string]bool{
	"!unlock": true,
	"!help":   true,
	"!lock":   true,
}

// HandleMessage dispatches one line of operator input and returns the text
// to show back. Blank input is ignored.
func (r *Relay) HandleMessage(_ context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	name, args := splitCommand(text)
	if cmd, ok := commands[name]; ok {
		if !lockedCommands[name] && !r.gate.IsUnlocked() {
			return "", lockedError()
		}
		if name != "!unlock" && name != "!lock" {
			r.gate.Touch()
		}
		return cmd(r, args)
	}

	res, err := r.SubmitPrompt(text)
	if err != nil {
		return "", err
	}
	if res.Position > 1 {
		return fmt.Sprintf("Queued at position %d. %d ahead.", res.Position, res.Position-1), nil
	}
	return "", nil
}

func splitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "!") {
		return "", ""
	}
	name, args, _ := strings.Cut(text, " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

// Help lists the command surface.
func (r *Relay) Help() string {
	return strings.Join([]string{
		"Commands:",
		"!help: this message",
		"!status: active session, queue and lock status",
		"!sessions: list tracked sessions",
		"!switch <id>: switch the active session by id prefix",
		"!clear: forget all tracked sessions",
		"!queue: view pending jobs",
		"!cancel: clear the job queue",
		"!stop: stop the running job",
		"!tools: tools allowed for the active session",
		"!pending: approvals waiting for a decision",
		"!lock: lock (requires the passphrase to unlock)",
		"!unlock <passphrase>: unlock",
		"",
		"Any other message is sent to the active session as a prompt.",
	}, "\n")
}

func (r *Relay) statusText(string) (string, error) {
	st := r.Status()
	var b strings.Builder
	if st.Active != nil {
		fmt.Fprintf(&b, "Active session: %s (%s) %s\nDirectory: %s\n", st.Active.Project, st.Active.Branch, st.Active.ShortID(), st.Active.WorkingDirectory)
	} else {
		b.WriteString("Active session: none, waiting for a session report\n")
	}
	state := "idle"
	if st.Queue.Processing {
		state = "processing"
	}
	fmt.Fprintf(&b, "Queue: %d pending, %s\n", st.Queue.Pending, state)
	if st.Queue.CurrentPrompt != "" {
		fmt.Fprintf(&b, "Current job: %s...\n", st.Queue.CurrentPrompt)
	}
	lock := "unlocked"
	if !st.Gate.Unlocked {
		lock = "locked"
	}
	fmt.Fprintf(&b, "Security: %s\n", lock)
	fmt.Fprintf(&b, "Pending approvals: %d", st.PendingApprovals)
	return b.String(), nil
}

func (r *Relay) sessionsText(string) (string, error) {
	views := r.ListSessions()
	if len(views) == 0 {
		return "No sessions tracked yet. Start the assistant with hooks enabled to see sessions here.", nil
	}
	lines := make([]string, 0, len(views)+1)
	for i, v := range views {
		marker := ""
		if v.Active {
			marker = " <- active"
		}
		age := r.age(v.LastSeenAt).Round(time.Minute) / time.Minute
		lines = append(lines, fmt.Sprintf("%d. %s %s (%s) %dm ago%s", i+1, v.ShortID(), v.Project, v.Branch, age, marker))
	}
	lines = append(lines, "Use !switch <id-prefix> to change the active session.")
	return strings.Join(lines, "\n"), nil
}

func (r *Relay) switchText(args string) (string, error) {
	if args == "" {
		return "Usage: !switch <session-id-prefix>. Use !sessions to see available sessions.", nil
	}
	prefix := strings.Fields(args)[0]
	s, err := r.SwitchActiveSession(prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Switched to %s (%s)\nSession: %s\nDirectory: %s", s.Project, s.Branch, s.ShortID(), s.WorkingDirectory), nil
}

func (r *Relay) clearText(string) (string, error) {
	n := r.ClearSessions()
	return fmt.Sprintf("Cleared %d session(s).", n), nil
}

func (r *Relay) queueText(string) (string, error) {
	v := r.ViewQueue()
	if !v.Status.Processing && len(v.Waiting) == 0 {
		return "Queue is empty.", nil
	}
	var b strings.Builder
	if v.Status.Processing {
		fmt.Fprintf(&b, "Processing: %s...\n", v.Status.CurrentPrompt)
	}
	fmt.Fprintf(&b, "%d job(s) queued", len(v.Waiting))
	for i, p := range v.Waiting {
		fmt.Fprintf(&b, "\n%d. %s", i+1, p)
	}
	return b.String(), nil
}

func (r *Relay) cancelText(string) (string, error) {
	n := r.CancelQueue()
	return fmt.Sprintf("Queue cleared (%d job(s) dropped).", n), nil
}

func (r *Relay) stopText(string) (string, error) {
	if !r.StopCurrent() {
		return "Nothing is running.", nil
	}
	return "Stopping the running job.", nil
}

func (r *Relay) lockText(string) (string, error) {
	if err := r.Lock(); err != nil {
		return "", err
	}
	return "Locked. Use !unlock with your passphrase to resume.", nil
}

func (r *Relay) unlockText(args string) (string, error) {
	ok, err := r.Unlock(args)
	if err != nil {
		return "", err
	}
	if !ok {
		return "Wrong passphrase.", nil
	}
	return "Unlocked. You can now send prompts.", nil
}

func (r *Relay) toolsText(string) (string, error) {
	active, tools, err := r.ListAllowedTools()
	if err != nil {
		return "", err
	}
	if len(tools) == 0 {
		return fmt.Sprintf("No tools allowed for the rest of session %s.", active.ShortID()), nil
	}
	return fmt.Sprintf("Allowed for session %s: %s", active.ShortID(), strings.Join(tools, ", ")), nil
}

func (r *Relay) pendingText(string) (string, error) {
	reqs := r.PendingApprovals()
	if len(reqs) == 0 {
		return "No approvals pending.", nil
	}
	lines := make([]string, 0, len(reqs))
	for _, req := range reqs {
		lines = append(lines, fmt.Sprintf("%s %s [%s] session %s: %s", req.ID, req.ToolName, req.Risk.Level, shortID(req.SessionID), req.InputPreview))
	}
	return strings.Join(lines, "\n"), nil
}

func formatResolution(id string, res permission.Resolution) string {
	verb := "Denied"
	switch res.Decision.Kind() {
	case permission.KindAllow:
		verb = "Allowed"
	case permission.KindAllowModified:
		verb = "Allowed with modified input"
	}
	return fmt.Sprintf("%s request %s.", verb, id)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
