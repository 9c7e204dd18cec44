package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/turnstile/internal/config"
	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/session"
)

func testConfig() config.Config {
	return config.Config{
		MetricsNamespace:  "turnstile_app_test",
		OperatorToken:     "tok",
		QueueMaxSize:      3,
		AgentMode:         "mock",
		GateSweepInterval: time.Second,
		PermissionTimeout: time.Minute,
		AuditHistoryLimit: 10,
	}
}

func TestBuildWiresInMemoryStack(t *testing.T) {
	res, err := Build(context.Background(), testConfig(), logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, res.Start(ctx))

	rec := httptest.NewRecorder()
	res.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "in-memory")

	res.Registry.Track("s1", "/work/api", session.Meta{Branch: "main"})
	assert.Equal(t, 1, res.Registry.Len())
	assert.True(t, res.Gate.IsUnlocked())

	shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, res.Cleanup(shutdownCtx))
}

func TestBuildRejectsUnknownAgentMode(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsNamespace = "turnstile_app_test_bad_mode"
	cfg.AgentMode = "http"
	_, err := Build(context.Background(), cfg, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent runner init failed")
}
