package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/turnstile/internal/clock"
	"github.com/ent0n29/turnstile/internal/events"
	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/session"
)

func TestParseStructuredPayload(t *testing.T) {
	r, ok := Parse([]byte(`{"session_id":" abc-123 ","cwd":"/work/api","branch":"main","hook_event_name":"Stop"}`))
	require.True(t, ok)
	assert.Equal(t, Report{SessionID: "abc-123", WorkingDirectory: "/work/api", Branch: "main", HookEvent: "Stop"}, r)
}

func TestParseRequiresSessionAndDirectory(t *testing.T) {
	for _, raw := range []string{
		`{"session_id":"abc"}`,
		`{"cwd":"/work"}`,
		`{"session_id":"  ","cwd":"/work"}`,
		`not json`,
		`[]`,
	} {
		_, ok := Parse([]byte(raw))
		assert.False(t, ok, raw)
	}
}

func TestParseEmbedFields(t *testing.T) {
	raw := `{"embeds":[{"fields":[
		{"name":"🆔 Session","value":"` + "`1a2b3c4d...`" + `"},
		{"name":"📂 Directory","value":"` + "`/work/api`" + `"},
		{"name":"🌿 Branch","value":"` + "`feature/x`" + `"},
		{"name":"📦 Project","value":"` + "`api`" + `"}
	]}]}`
	r, ok := Parse([]byte(raw))
	require.True(t, ok)
	assert.Equal(t, "1a2b3c4d", r.SessionID)
	assert.Equal(t, "/work/api", r.WorkingDirectory)
	assert.Equal(t, "feature/x", r.Branch)
	assert.Equal(t, "api", r.Project)
}

func TestParseEmbedResumeOverridesTruncatedID(t *testing.T) {
	raw := `{"fields":[
		{"name":"Session","value":"` + "`1a2b3c4d...`" + `"},
		{"name":"Directory","value":"` + "`/work/api`" + `"},
		{"name":"Resume","value":"` + "`claude --resume 1a2b3c4d-5e6f-7a8b-9c0d-112233445566`" + `"}
	]}`
	r, ok := Parse([]byte(raw))
	require.True(t, ok)
	assert.Equal(t, "1a2b3c4d-5e6f-7a8b-9c0d-112233445566", r.SessionID)
}

func TestParseEmbedIgnoresUnquotedValues(t *testing.T) {
	raw := `{"fields":[{"name":"Session","value":"abc"},{"name":"Directory","value":"` + "`/work`" + `"}]}`
	_, ok := Parse([]byte(raw))
	assert.False(t, ok)
}

func TestReportEventRoundTrip(t *testing.T) {
	r := Report{SessionID: "s", WorkingDirectory: "/w", Branch: "b", Project: "p", HookEvent: "Stop"}
	assert.Equal(t, r, ReportFromEvent(NewReportEvent(r)))
}

func TestListenerTracksReportedSessions(t *testing.T) {
	bus := events.NewMemoryEventBus(logger.Nop())
	defer bus.Close()
	reg := session.NewRegistry(clock.NewFake(time.Unix(1_700_000_000, 0)))

	l := NewListener(bus, reg, logger.Nop())
	require.NoError(t, l.Start())
	defer l.Stop()

	ev := NewReportEvent(Report{SessionID: "sess-1", WorkingDirectory: "/work/api", Branch: "main"})
	require.NoError(t, bus.Publish(context.Background(), events.SubjectSessionReported, ev))
	incomplete := NewReportEvent(Report{SessionID: "sess-2"})
	require.NoError(t, bus.Publish(context.Background(), events.SubjectSessionReported, incomplete))

	require.Eventually(t, func() bool {
		_, ok := reg.Active()
		return ok
	}, time.Second, 5*time.Millisecond)

	active, _ := reg.Active()
	assert.Equal(t, "sess-1", active.ID)
	assert.Equal(t, "api", active.Project)
	assert.Equal(t, "main", active.Branch)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, reg.Len())
}
