// Package queue serializes turns against the external assistant process.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/apperrors"
	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/observability"
	"github.com/ent0n29/turnstile/internal/tracing"
)

const (
	DefaultMaxSize = 5
	previewRunes   = 60
)

// Job is one turn. Execute runs with a context that is cancelled by
// CancelCurrent or Close; any error it returns, or panic it raises, is
// delivered to OnError and never stops the queue.
type Job struct {
	ID      string
	Prompt  string
	Execute func(ctx context.Context) error
	OnError func(err error)
}

// Result reports whether Enqueue accepted a job and its 1-based slot. The
// running job occupies slot 1. Rejected jobs report Position -1.
type Result struct {
	Accepted bool `json:"accepted"`
	Position int  `json:"position"`
}

// Status is a read-only snapshot for display.
type Status struct {
	Pending       int    `json:"pending"`
	Processing    bool   `json:"processing"`
	CurrentPrompt string `json:"current_prompt,omitempty"`
	CurrentJobID  string `json:"current_job_id,omitempty"`
}

// Queue is a bounded FIFO with at most one job in flight. The bound counts
// the in-flight job together with the pending ones.
type Queue struct {
	mu            sync.Mutex
	pending       []*Job
	current       *Job
	currentCancel context.CancelFunc
	processing    bool
	closed        bool
	maxSize       int

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	log     *logger.Logger
	metrics *observability.Metrics
}

func New(maxSize int, log *logger.Logger, metrics *observability.Metrics) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		maxSize:    maxSize,
		baseCtx:    ctx,
		baseCancel: cancel,
		log:        logger.OrDefault(log),
		metrics:    metrics,
	}
}

// MaxSize returns the configured bound.
func (q *Queue) MaxSize() int {
	return q.maxSize
}

// Enqueue appends job and starts draining. A full or closed queue rejects
// the job without touching its state.
func (q *Queue) Enqueue(job Job) Result {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	q.mu.Lock()
	occupied := len(q.pending)
	if q.current != nil {
		occupied++
	}
	if q.closed || occupied >= q.maxSize {
		q.mu.Unlock()
		q.metrics.ObserveRejection()
		q.log.Warn("job rejected", zap.String("job_id", job.ID), zap.Int("occupied", occupied), zap.Int("max_size", q.maxSize))
		return Result{Accepted: false, Position: -1}
	}
	j := job
	q.pending = append(q.pending, &j)
	position := occupied + 1
	depth := len(q.pending)
	var (
		first *Job
		ctx   context.Context
	)
	if !q.processing {
		// Popped under the same lock so Status never sees an idle queue
		// with a job already committed to run.
		q.processing = true
		q.wg.Add(1)
		first, ctx = q.popLocked()
		depth = len(q.pending)
	}
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
	q.log.Info("job queued", zap.String("job_id", job.ID), zap.Int("position", position))
	if first != nil {
		go q.drain(ctx, first)
	}
	return Result{Accepted: true, Position: position}
}

// Status returns the pending count, whether a job is running and a preview
// of its prompt.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{Pending: len(q.pending), Processing: q.processing}
	if q.current != nil {
		st.CurrentPrompt = Preview(q.current.Prompt)
		st.CurrentJobID = q.current.ID
	}
	return st
}

// PendingPrompts returns previews of the waiting prompts in execution order.
func (q *Queue) PendingPrompts() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.pending))
	for _, j := range q.pending {
		out = append(out, Preview(j.Prompt))
	}
	return out
}

// Clear discards not-yet-started jobs and returns how many were dropped. The
// running job is unaffected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	q.metrics.SetQueueDepth(0)
	if n > 0 {
		q.log.Info("queue cleared", zap.Int("discarded", n))
	}
	return n
}

// CancelCurrent cancels the running job's context. It reports whether a job
// was running.
func (q *Queue) CancelCurrent() bool {
	q.mu.Lock()
	cancel := q.currentCancel
	var id string
	if q.current != nil {
		id = q.current.ID
	}
	q.mu.Unlock()
	if cancel == nil {
		return false
	}
	q.log.Info("cancelling running job", zap.String("job_id", id))
	cancel()
	return true
}

// Close refuses new jobs, drops pending ones, cancels the running one and
// waits for the drain goroutine to exit or ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.pending = nil
	q.mu.Unlock()
	q.baseCancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// popLocked moves the front job to current. Callers hold q.mu.
func (q *Queue) popLocked() (*Job, context.Context) {
	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	ctx, cancel := context.WithCancel(q.baseCtx)
	q.current = job
	q.currentCancel = cancel
	return job, ctx
}

func (q *Queue) drain(ctx context.Context, job *Job) {
	defer q.wg.Done()

	for {
		q.run(ctx, job)

		q.mu.Lock()
		if q.currentCancel != nil {
			q.currentCancel()
		}
		if len(q.pending) == 0 || q.closed {
			q.processing = false
			q.current = nil
			q.currentCancel = nil
			q.mu.Unlock()
			return
		}
		job, ctx = q.popLocked()
		depth := len(q.pending)
		q.mu.Unlock()

		q.metrics.SetQueueDepth(depth)
	}
}

func (q *Queue) run(ctx context.Context, job *Job) {
	started := time.Now()
	ctx, span := tracing.Start(ctx, "turn.execute", attribute.String("job.id", job.ID))
	log := q.log.WithFields(zap.String("job_id", job.ID))
	log.Info("job started", zap.String("prompt", Preview(job.Prompt)))

	err := safeExecute(ctx, job)
	tracing.End(span, err)

	elapsed := time.Since(started)
	if err == nil {
		q.metrics.ObserveJob("ok", elapsed)
		log.Info("job finished", zap.Duration("elapsed", elapsed))
		return
	}

	outcome := "error"
	if apperrors.Is(err, apperrors.CodeCancelled) {
		outcome = "cancelled"
	}
	q.metrics.ObserveJob(outcome, elapsed)
	log.Warn("job failed", zap.Duration("elapsed", elapsed), zap.Error(err))
	if job.OnError != nil {
		safeOnError(log, job.OnError, err)
	}
}

func safeExecute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Newf(apperrors.CodeInternal, "job panicked: %v", r)
		}
	}()
	if job.Execute == nil {
		return nil
	}
	return job.Execute(ctx)
}

func safeOnError(log *logger.Logger, onError func(error), err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job error handler panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	onError(err)
}

// Preview truncates prompt to the first 60 runes.
func Preview(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= previewRunes {
		return prompt
	}
	return string(runes[:previewRunes])
}
