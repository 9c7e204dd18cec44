package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/turnstile/internal/events"
	"github.com/ent0n29/turnstile/internal/logger"
)

func TestInMemoryStoreRecentNewestFirst(t *testing.T) {
	s := NewInMemoryStore(10)
	ctx := context.Background()
	for _, ev := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, Entry{Kind: KindTurn, Event: ev}))
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Event)
	assert.Equal(t, "b", got[1].Event)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestInMemoryStoreDropsOldestPastLimit(t *testing.T) {
	s := NewInMemoryStore(3)
	ctx := context.Background()
	for _, ev := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, s.Record(ctx, Entry{Event: ev}))
	}

	got, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	names := make([]string, 0, len(got))
	for _, e := range got {
		names = append(names, e.Event)
	}
	assert.Equal(t, []string{"5", "4", "3"}, names)
}

func TestInMemoryStoreEmpty(t *testing.T) {
	got, err := NewInMemoryStore(0).Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewStoreWithoutURLIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ", 5)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &InMemoryStore{}, s)
}

func TestRecorderWritesPermissionEvents(t *testing.T) {
	bus := events.NewMemoryEventBus(logger.Nop())
	defer bus.Close()
	store := NewInMemoryStore(10)

	rec := NewRecorder(store, bus, logger.Nop())
	require.NoError(t, rec.Start())
	require.NoError(t, rec.Start())
	defer rec.Stop()

	ev := events.NewEvent("permission.resolved", "permission-broker", map[string]any{
		"request_id": "req-1",
		"session_id": "sess-1",
		"tool_name":  "Bash",
		"decision":   "deny",
		"source":     "operator",
		"reason":     "Denied by operator",
	})
	require.NoError(t, bus.Publish(context.Background(), events.PermissionSubject("resolved"), ev))

	var got []Entry
	require.Eventually(t, func() bool {
		got, _ = store.Recent(context.Background(), 10)
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	e := got[0]
	assert.Equal(t, ev.ID, e.ID)
	assert.Equal(t, KindPermission, e.Kind)
	assert.Equal(t, "resolved", e.Event)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "sess-1", e.SessionID)
	assert.Equal(t, "Bash", e.ToolName)
	assert.Equal(t, "deny", e.Decision)
	assert.Equal(t, "operator", e.Source)
	assert.Equal(t, "Denied by operator", e.Detail)
}

func TestEntryFromEventFallsBackToPreview(t *testing.T) {
	ev := events.NewEvent("permission.requested", "permission-broker", map[string]any{
		"input_preview": `{"command":"ls"}`,
	})
	e := EntryFromEvent(ev)
	assert.Equal(t, "requested", e.Event)
	assert.Equal(t, `{"command":"ls"}`, e.Detail)
}
