package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/turnstile/internal/hookclient"
	"github.com/ent0n29/turnstile/internal/permission"
)

func runRoot(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestHookPreToolUsePrintsServerDecision(t *testing.T) {
	var gotSecret string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, hookclient.PathPreToolUse, r.URL.Path)
		gotSecret = r.Header.Get(hookclient.HeaderHookSecret)
		gotBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(permission.Allow("ok").Envelope())
	}))
	defer srv.Close()
	t.Setenv("TURNSTILE_URL", srv.URL)
	t.Setenv("TURNSTILE_HOOK_SECRET", "hs")

	out := runRoot(t, `{"tool_name":"Bash"}`, "hook", "pre-tool-use")

	var env permission.Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.Equal(t, "allow", env.HookSpecificOutput.PermissionDecision)
	assert.Equal(t, "hs", gotSecret)
	assert.JSONEq(t, `{"tool_name":"Bash"}`, string(gotBody))
}

func TestHookPreToolUseDeniesWithoutServer(t *testing.T) {
	t.Setenv("TURNSTILE_URL", "")
	t.Setenv("APP_PUBLIC_URL", "")

	out := runRoot(t, `{"tool_name":"Bash"}`, "hook", "pre-tool-use")

	var env permission.Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.Equal(t, "deny", env.HookSpecificOutput.PermissionDecision)
}

func TestHookReportNeverFails(t *testing.T) {
	t.Setenv("TURNSTILE_URL", "")
	t.Setenv("APP_PUBLIC_URL", "")
	assert.Empty(t, runRoot(t, `{"session_id":"s1","cwd":"/w"}`, "hook", "report"))
}
