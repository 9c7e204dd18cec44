// Package execution builds queue jobs that run one operator prompt against
// the assistant process.
package execution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/agent"
	"github.com/ent0n29/turnstile/internal/apperrors"
	"github.com/ent0n29/turnstile/internal/audit"
	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/queue"
	"github.com/ent0n29/turnstile/internal/session"
)

// Replier delivers text back to the operator.
type Replier interface {
	Reply(ctx context.Context, text string)
	Notice(ctx context.Context, text string)
}

// QueueStatus reports the queue's current state.
type QueueStatus interface {
	Status() queue.Status
}

type Options struct {
	Runner   agent.Runner
	Registry *session.Registry
	Queue    QueueStatus
	Replier  Replier
	Audit    audit.Store
	Logger   *logger.Logger
}

// Factory turns prompts into queue jobs.
type Factory struct {
	runner   agent.Runner
	registry *session.Registry
	queue    QueueStatus
	replier  Replier
	audit    audit.Store
	log      *logger.Logger
}

func NewFactory(opts Options) *Factory {
	return &Factory{
		runner:   opts.Runner,
		registry: opts.Registry,
		queue:    opts.Queue,
		replier:  opts.Replier,
		audit:    opts.Audit,
		log:      logger.OrDefault(opts.Logger),
	}
}

// NewJob captures sess at enqueue time so a later active-session switch does
// not redirect the turn.
func (f *Factory) NewJob(prompt string, sess session.Session) queue.Job {
	job := queue.Job{Prompt: prompt}
	job.Execute = func(ctx context.Context) error {
		return f.execute(ctx, prompt, sess)
	}
	job.OnError = func(err error) {
		f.fail(sess, err)
	}
	return job
}

func (f *Factory) execute(ctx context.Context, prompt string, sess session.Session) error {
	started := time.Now()
	res, err := f.runner.Run(ctx, agent.Request{
		Prompt:           prompt,
		SessionID:        sess.ID,
		WorkingDirectory: sess.WorkingDirectory,
	})
	if err != nil {
		return err
	}

	sessionID := res.SessionID
	if sessionID == "" {
		sessionID = sess.ID
	}
	tracked := f.registry.Track(sessionID, sess.WorkingDirectory, session.Meta{Project: sess.Project, Branch: sess.Branch})
	if tracked.ID != sess.ID {
		f.log.Info("assistant continued in a new session",
			zap.String("previous_session_id", sess.ID),
			zap.String("session_id", tracked.ID))
	}

	f.reply(ctx, res.Text)
	if f.queue != nil {
		if st := f.queue.Status(); st.Pending > 0 {
			f.notice(ctx, fmt.Sprintf("%d job(s) remaining", st.Pending))
		}
	}

	f.record(ctx, audit.Entry{
		Kind:      audit.KindTurn,
		Event:     "completed",
		SessionID: tracked.ID,
		Detail:    fmt.Sprintf("%s (%s)", queue.Preview(prompt), time.Since(started).Round(time.Millisecond)),
	})
	return nil
}

func (f *Factory) fail(sess session.Session, err error) {
	ctx := context.Background()
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeCancelled {
		f.notice(ctx, "Turn cancelled.")
	} else {
		f.reply(ctx, "Error: "+apperrors.Message(err))
	}
	f.record(ctx, audit.Entry{
		Kind:      audit.KindTurn,
		Event:     "failed",
		SessionID: sess.ID,
		Source:    string(code),
		Detail:    apperrors.Message(err),
	})
}

func (f *Factory) reply(ctx context.Context, text string) {
	if f.replier != nil {
		f.replier.Reply(ctx, text)
	}
}

func (f *Factory) notice(ctx context.Context, text string) {
	if f.replier != nil {
		f.replier.Notice(ctx, text)
	}
}

func (f *Factory) record(ctx context.Context, entry audit.Entry) {
	if f.audit == nil {
		return
	}
	if err := f.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		f.log.Warn("failed to record turn", zap.String("session_id", entry.SessionID), zap.Error(err))
	}
}
