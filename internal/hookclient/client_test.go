package hookclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/permission"
	"github.com/ent0n29/turnstile/internal/reliability"
)

func decode(t *testing.T, raw []byte) permission.HookOutput {
	t.Helper()
	var env permission.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env.HookSpecificOutput
}

func fastRetry(c *Client) *Client {
	c.Retry = reliability.Policy{Attempts: 3, Base: time.Millisecond, Cap: 5 * time.Millisecond}
	return c
}

func TestPreToolUseForwardsPayloadAndSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathPreToolUse, r.URL.Path)
		assert.Equal(t, "s3cret", r.Header.Get(HeaderHookSecret))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"tool_name":"Bash"}`, string(body))
		_ = json.NewEncoder(w).Encode(permission.AllowModified(json.RawMessage(`{"command":"ls"}`), "ok").Envelope())
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "s3cret", logger.Nop())
	out := decode(t, c.PreToolUse(context.Background(), []byte(`{"tool_name":"Bash"}`)))
	assert.Equal(t, "PreToolUse", out.HookEventName)
	assert.Equal(t, "allow", out.PermissionDecision)
	assert.JSONEq(t, `{"command":"ls"}`, string(out.UpdatedInput))
}

func TestPreToolUseDeniesWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := fastRetry(New(url, "", logger.Nop()))
	out := decode(t, c.PreToolUse(context.Background(), []byte(`{}`)))
	assert.Equal(t, "deny", out.PermissionDecision)
	assert.Contains(t, out.PermissionDecisionReason, "unreachable")
}

func TestPreToolUseDeniesOnGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	out := decode(t, New(srv.URL, "", logger.Nop()).PreToolUse(context.Background(), []byte(`{}`)))
	assert.Equal(t, "deny", out.PermissionDecision)
}

func TestPreToolUseDeniesOnUnauthorizedWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	out := decode(t, fastRetry(New(srv.URL, "wrong", logger.Nop())).PreToolUse(context.Background(), []byte(`{}`)))
	assert.Equal(t, "deny", out.PermissionDecision)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReportRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathSessionReport, r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := fastRetry(New(srv.URL, "", logger.Nop())).Report(context.Background(), []byte(`{"session_id":"s","cwd":"/w"}`))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReportWithoutURL(t *testing.T) {
	require.Error(t, New("", "", logger.Nop()).Report(context.Background(), []byte(`{}`)))
}
