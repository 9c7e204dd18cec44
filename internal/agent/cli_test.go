package agent

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/turnstile/internal/apperrors"
	"github.com/ent0n29/turnstile/internal/logger"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestRunner(path string, turnTimeout, killGrace time.Duration) *CLIRunner {
	return NewCLIRunner(Config{
		CLIPath:     path,
		TurnTimeout: turnTimeout,
		KillGrace:   killGrace,
		PublicURL:   "http://127.0.0.1:9999",
		HookSecret:  "s3cret",
		Logger:      logger.Nop(),
	})
}

func TestCLIRunnerParsesResultAndSessionID(t *testing.T) {
	script := writeScript(t, `echo '{"result":"done","session_id":"sess-new"}'`)
	r := newTestRunner(script, 5*time.Second, time.Second)

	res, err := r.Run(context.Background(), Request{Prompt: "hi", WorkingDirectory: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)
	assert.Equal(t, "sess-new", res.SessionID)
	assert.Equal(t, "done", res.Raw["result"])
}

func TestCLIRunnerPassesArgsDirAndEnv(t *testing.T) {
	script := writeScript(t, `printf '%s|' "$@" > args.txt
pwd > cwd.txt
echo "$TURNSTILE_URL $TURNSTILE_HOOK_SECRET" > env.txt
echo '{"result":"ok"}'`)
	dir := t.TempDir()
	r := newTestRunner(script, 5*time.Second, time.Second)

	res, err := r.Run(context.Background(), Request{Prompt: "fix the bug", SessionID: "abc", WorkingDirectory: dir})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, "abc", res.SessionID)

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	assert.Equal(t, "-p|fix the bug|--output-format|json|--resume|abc|", string(args))

	env, err := os.ReadFile(filepath.Join(dir, "env.txt"))
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999 s3cret", strings.TrimSpace(string(env)))

	cwd, err := os.ReadFile(filepath.Join(dir, "cwd.txt"))
	require.NoError(t, err)
	wantDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(strings.TrimSpace(string(cwd)))
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir)
}

func TestCLIRunnerOmitsResumeForNewSession(t *testing.T) {
	require.Equal(t, []string{"-p", "x", "--output-format", "json"}, buildArgs(Request{Prompt: "x", SessionID: "  "}))
}

func TestCLIRunnerNonZeroExitCarriesStderr(t *testing.T) {
	script := writeScript(t, `echo "model overloaded" >&2
exit 2`)
	r := newTestRunner(script, 5*time.Second, time.Second)

	_, err := r.Run(context.Background(), Request{Prompt: "hi", WorkingDirectory: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeExternalProcessFailure, apperrors.CodeOf(err))
	assert.Equal(t, "model overloaded", apperrors.Message(err))
}

func TestCLIRunnerNonZeroExitWithoutStderrReportsCode(t *testing.T) {
	script := writeScript(t, `exit 7`)
	r := newTestRunner(script, 5*time.Second, time.Second)

	_, err := r.Run(context.Background(), Request{Prompt: "hi", WorkingDirectory: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeExternalProcessFailure, apperrors.CodeOf(err))
	assert.Equal(t, "assistant exited with code 7", apperrors.Message(err))
}

func TestCLIRunnerMissingBinaryIsSpawnFailure(t *testing.T) {
	r := newTestRunner(filepath.Join(t.TempDir(), "missing"), 5*time.Second, time.Second)

	_, err := r.Run(context.Background(), Request{Prompt: "hi", WorkingDirectory: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeSpawnFailure, apperrors.CodeOf(err))
}

func TestCLIRunnerTimeout(t *testing.T) {
	script := writeScript(t, `exec sleep 10`)
	r := newTestRunner(script, 100*time.Millisecond, 100*time.Millisecond)

	start := time.Now()
	_, err := r.Run(context.Background(), Request{Prompt: "hi", WorkingDirectory: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeTimeout, apperrors.CodeOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCLIRunnerCancelEscalatesToKill(t *testing.T) {
	// The process ignores SIGTERM, so only the kill after the grace period ends it.
	script := writeScript(t, `trap '' TERM
exec sleep 10`)
	r := newTestRunner(script, time.Minute, 150*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := r.Run(ctx, Request{Prompt: "hi", WorkingDirectory: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeCancelled, apperrors.CodeOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCLIRunnerZeroKillGraceStillEscalates(t *testing.T) {
	for _, grace := range []time.Duration{0, -time.Second} {
		r := newTestRunner("claude", time.Second, grace)
		assert.Equal(t, defaultKillGrace, r.killGrace, "grace %s", grace)
	}

	if testing.Short() {
		t.Skip("waits for the default kill grace")
	}
	script := writeScript(t, `trap '' TERM
exec sleep 30`)
	r := newTestRunner(script, 100*time.Millisecond, 0)

	start := time.Now()
	_, err := r.Run(context.Background(), Request{Prompt: "hi", WorkingDirectory: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeTimeout, apperrors.CodeOf(err))
	assert.Less(t, time.Since(start), defaultKillGrace+5*time.Second)
}

func TestNewRunnerModes(t *testing.T) {
	r, err := NewRunner(Config{Mode: "mock"})
	require.NoError(t, err)
	assert.IsType(t, &MockRunner{}, r)

	r, err = NewRunner(Config{Mode: "CLI", CLIPath: "claude"})
	require.NoError(t, err)
	assert.IsType(t, &CLIRunner{}, r)

	_, err = NewRunner(Config{Mode: "cli"})
	require.Error(t, err)

	_, err = NewRunner(Config{Mode: "http"})
	require.Error(t, err)
}

func TestMockRunnerEchoesPrompt(t *testing.T) {
	r := NewMockRunner()
	res, err := r.Run(context.Background(), Request{Prompt: " hello ", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "I heard you: hello", res.Text)
	assert.Equal(t, "s1", res.SessionID)

	res, err = r.Run(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, Request{Prompt: "x"})
	assert.Equal(t, apperrors.CodeCancelled, apperrors.CodeOf(err))
}
