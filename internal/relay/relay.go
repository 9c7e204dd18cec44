// Package relay dispatches operator input: !commands map onto the core
// components, anything else becomes a prompt for the active session.
package relay

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/apperrors"
	"github.com/ent0n29/turnstile/internal/clock"
	"github.com/ent0n29/turnstile/internal/gate"
	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/permission"
	"github.com/ent0n29/turnstile/internal/protocol"
	"github.com/ent0n29/turnstile/internal/queue"
	"github.com/ent0n29/turnstile/internal/session"
)

// TurnBuilder creates the queue job for a prompt.
type TurnBuilder interface {
	NewJob(prompt string, sess session.Session) queue.Job
}

type Options struct {
	Registry *session.Registry
	Queue    *queue.Queue
	Gate     *gate.Gate
	Broker   *permission.Broker
	Turns    TurnBuilder
	Clock    clock.Clock
	Logger   *logger.Logger

	// DefaultWorkingDirectory, when set, lets a prompt without an active
	// session start a fresh conversation there.
	DefaultWorkingDirectory string
}

type Relay struct {
	registry *session.Registry
	queue    *queue.Queue
	gate     *gate.Gate
	broker   *permission.Broker
	turns    TurnBuilder
	clock    clock.Clock
	log      *logger.Logger
	freshDir string
}

func New(opts Options) *Relay {
	return &Relay{
		registry: opts.Registry,
		queue:    opts.Queue,
		gate:     opts.Gate,
		broker:   opts.Broker,
		turns:    opts.Turns,
		clock:    clock.OrReal(opts.Clock),
		log:      logger.OrDefault(opts.Logger),
		freshDir: strings.TrimSpace(opts.DefaultWorkingDirectory),
	}
}

// StatusView is the combined snapshot shown by !status.
type StatusView struct {
	Active           *session.Session `json:"active_session,omitempty"`
	Queue            queue.Status     `json:"queue"`
	MaxQueueSize     int              `json:"max_queue_size"`
	Gate             gate.State       `json:"gate"`
	PendingApprovals int              `json:"pending_approvals"`
	TrackedSessions  int              `json:"tracked_sessions"`
}

// QueueView lists the running and waiting prompts.
type QueueView struct {
	Status  queue.Status `json:"status"`
	Waiting []string     `json:"waiting"`
}

// PromptResult reports where a prompt landed.
type PromptResult struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
	Position  int    `json:"position"`
}

func (r *Relay) Status() StatusView {
	st := StatusView{
		Queue:            r.queue.Status(),
		MaxQueueSize:     r.queue.MaxSize(),
		Gate:             r.gate.State(),
		PendingApprovals: len(r.broker.Pending()),
		TrackedSessions:  r.registry.Len(),
	}
	if active, ok := r.registry.Active(); ok {
		st.Active = &active
	}
	st.Gate.Unlocked = r.gate.IsUnlocked()
	return st
}

func (r *Relay) ListSessions() []session.View {
	return r.registry.Views()
}

// SwitchActiveSession activates the first session, most recent first, whose
// id starts with prefix.
func (r *Relay) SwitchActiveSession(prefix string) (session.Session, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return session.Session{}, apperrors.New(apperrors.CodeInvalidInput, "session id prefix is required")
	}
	s, ok := r.registry.FindByPrefix(prefix)
	if !ok || !r.registry.SetActive(s.ID) {
		return session.Session{}, apperrors.Wrap(session.ErrNotFound, apperrors.CodeNotFound, "no session found starting with "+prefix)
	}
	r.log.Info("active session switched", zap.String("session_id", s.ID))
	return s, nil
}

// ClearSessions forgets every session and its allow-list.
func (r *Relay) ClearSessions() int {
	ids := r.registry.Clear()
	for _, id := range ids {
		r.broker.ClearSession(id)
	}
	r.log.Info("sessions cleared", zap.Int("count", len(ids)))
	return len(ids)
}

func (r *Relay) ViewQueue() QueueView {
	return QueueView{Status: r.queue.Status(), Waiting: r.queue.PendingPrompts()}
}

// CancelQueue drops waiting jobs. The running job continues.
func (r *Relay) CancelQueue() int {
	return r.queue.Clear()
}

// StopCurrent cancels the running job.
func (r *Relay) StopCurrent() bool {
	return r.queue.CancelCurrent()
}

func (r *Relay) Lock() error {
	if !r.gate.Enabled() {
		return apperrors.New(apperrors.CodeInvalidInput, "No passphrase configured. Set GATE_PASSPHRASE to enable locking.")
	}
	r.gate.Lock()
	return nil
}

func (r *Relay) Unlock(phrase string) (bool, error) {
	if !r.gate.Enabled() {
		return false, apperrors.New(apperrors.CodeInvalidInput, "No passphrase configured; the gate is always unlocked.")
	}
	return r.gate.TryUnlock(phrase), nil
}

// ListAllowedTools returns the allow-list of the active session.
func (r *Relay) ListAllowedTools() (session.Session, []string, error) {
	active, ok := r.registry.Active()
	if !ok {
		return session.Session{}, nil, apperrors.New(apperrors.CodeNoActiveSession, "no active session")
	}
	return active, r.broker.AllowedTools(active.ID), nil
}

func (r *Relay) PendingApprovals() []permission.Request {
	return r.broker.Pending()
}

// SubmitPrompt enqueues text against the active session.
func (r *Relay) SubmitPrompt(text string) (PromptResult, error) {
	if !r.gate.IsUnlocked() {
		return PromptResult{}, lockedError()
	}
	active, ok := r.registry.Active()
	if !ok {
		if r.freshDir == "" {
			return PromptResult{}, apperrors.New(apperrors.CodeNoActiveSession, noActiveSessionMessage)
		}
		active = session.Session{
			WorkingDirectory: r.freshDir,
			Project:          filepath.Base(r.freshDir),
			Branch:           session.UnknownBranch,
		}
	}
	r.gate.Touch()

	job := r.turns.NewJob(text, active)
	res := r.queue.Enqueue(job)
	if !res.Accepted {
		return PromptResult{}, apperrors.New(apperrors.CodeCapacity, "Queue is full. Wait for current jobs to finish.")
	}
	return PromptResult{JobID: job.ID, SessionID: active.ID, Position: res.Position}, nil
}

// Decide applies an operator action to a pending approval.
func (r *Relay) Decide(action protocol.PermissionAction) (permission.Resolution, error) {
	if !r.gate.IsUnlocked() {
		return permission.Resolution{}, lockedError()
	}
	r.gate.Touch()
	return r.broker.HandleAction(action.RequestID, permission.Action{
		Kind:         permission.ActionKind(action.Action),
		UpdatedInput: action.UpdatedInput,
		Reason:       action.Reason,
	})
}

// HandleAction implements the console dispatcher.
func (r *Relay) HandleAction(_ context.Context, action protocol.PermissionAction) (string, error) {
	res, err := r.Decide(action)
	if err != nil {
		return "", err
	}
	return formatResolution(action.RequestID, res), nil
}

func (r *Relay) age(t time.Time) time.Duration {
	return r.clock.Now().Sub(t)
}

func lockedError() error {
	return apperrors.New(apperrors.CodeLocked, "Locked. Use !unlock <passphrase> to unlock.")
}

const noActiveSessionMessage = "No active session. Start the assistant with hooks enabled and its session is detected when it reports in."
