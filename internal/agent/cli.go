package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/apperrors"
	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/tracing"
)

const (
	defaultTurnTimeout = 300 * time.Second
	defaultKillGrace   = 10 * time.Second
	emptyResponse      = "(empty response)"
)

// CLIRunner invokes `<cli> -p <prompt> --output-format json [--resume <id>]`
// in the request's working directory. Cancellation sends SIGTERM and, if the
// process is still alive after KillGrace, SIGKILL.
type CLIRunner struct {
	binaryPath  string
	turnTimeout time.Duration
	killGrace   time.Duration
	env         []string
	log         *logger.Logger
}

func NewCLIRunner(cfg Config) *CLIRunner {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	if cfg.KillGrace <= 0 {
		// exec treats a zero WaitDelay as "never kill", so a turn must
		// always escalate.
		cfg.KillGrace = defaultKillGrace
	}
	var env []string
	if u := strings.TrimSpace(cfg.PublicURL); u != "" {
		env = append(env, "TURNSTILE_URL="+u)
	}
	if s := strings.TrimSpace(cfg.HookSecret); s != "" {
		env = append(env, "TURNSTILE_HOOK_SECRET="+s)
	}
	return &CLIRunner{
		binaryPath:  strings.TrimSpace(cfg.CLIPath),
		turnTimeout: cfg.TurnTimeout,
		killGrace:   cfg.KillGrace,
		env:         env,
		log:         logger.OrDefault(cfg.Logger),
	}
}

func (r *CLIRunner) Run(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := tracing.Start(ctx, "agent.run",
		attribute.String("session.id", req.SessionID),
		attribute.String("working_directory", req.WorkingDirectory))
	defer func() { tracing.End(span, err) }()

	runCtx, cancel := context.WithTimeout(ctx, r.turnTimeout)
	defer cancel()

	args := buildArgs(req)
	cmd := exec.CommandContext(runCtx, r.binaryPath, args...)
	cmd.Dir = req.WorkingDirectory
	cmd.Env = append(os.Environ(), r.env...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.killGrace

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := r.log.WithFields(zap.String("session_id", req.SessionID), zap.String("cwd", req.WorkingDirectory))
	log.Info("starting assistant turn", zap.String("binary", r.binaryPath), zap.Bool("resume", req.SessionID != ""))

	if err := cmd.Start(); err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.CodeSpawnFailure, "failed to start assistant process")
	}
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return Result{}, apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "assistant turn cancelled")
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return Result{}, apperrors.Wrap(runCtx.Err(), apperrors.CodeTimeout,
			fmt.Sprintf("assistant turn exceeded %s", r.turnTimeout))
	case waitErr != nil:
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("assistant exited with code %d", exitCode(waitErr))
		}
		return Result{}, apperrors.Wrap(waitErr, apperrors.CodeExternalProcessFailure, msg)
	}

	res = ParseOutput(stdout.String(), req.SessionID)
	log.Info("assistant turn finished", zap.String("reported_session_id", res.SessionID), zap.Int("reply_chars", len(res.Text)))
	return res, nil
}

func buildArgs(req Request) []string {
	args := []string{"-p", req.Prompt, "--output-format", "json"}
	if id := strings.TrimSpace(req.SessionID); id != "" {
		args = append(args, "--resume", id)
	}
	return args
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
