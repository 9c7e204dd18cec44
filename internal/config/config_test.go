package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPERATOR_TOKEN", "tok")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.QueueMaxSize != 5 {
		t.Fatalf("QueueMaxSize = %d, want 5", cfg.QueueMaxSize)
	}
	if cfg.GateIdleTimeout != 15*time.Minute {
		t.Fatalf("GateIdleTimeout = %v, want 15m", cfg.GateIdleTimeout)
	}
	if cfg.PermissionTimeout != 10*time.Minute {
		t.Fatalf("PermissionTimeout = %v, want 10m", cfg.PermissionTimeout)
	}
	if cfg.AgentMode != "cli" {
		t.Fatalf("AgentMode = %q, want cli", cfg.AgentMode)
	}
	if cfg.GateEnabled() {
		t.Fatalf("GateEnabled() = true, want false without passphrase")
	}
	if cfg.PermissionSafeTools != nil {
		t.Fatalf("PermissionSafeTools = %v, want nil default", cfg.PermissionSafeTools)
	}
}

func TestLoadRequiresOperatorToken(t *testing.T) {
	setCoreEnvEmpty(t)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "OPERATOR_TOKEN") {
		t.Fatalf("Load() error = %v, want OPERATOR_TOKEN error", err)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPERATOR_TOKEN", "tok")
	t.Setenv("GATE_PASSPHRASE", "  open sesame ")
	t.Setenv("GATE_IDLE_TIMEOUT", "0")
	t.Setenv("QUEUE_MAX_SIZE", "2")
	t.Setenv("AGENT_MODE", "MOCK")
	t.Setenv("PERMISSION_SAFE_TOOLS", "Read, Grep ,,LS")
	t.Setenv("APP_PUBLIC_URL", "http://10.0.0.5:9000/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GatePassphrase != "open sesame" {
		t.Fatalf("GatePassphrase = %q, want trimmed", cfg.GatePassphrase)
	}
	if cfg.GateIdleTimeout != 0 {
		t.Fatalf("GateIdleTimeout = %v, want 0", cfg.GateIdleTimeout)
	}
	if cfg.QueueMaxSize != 2 {
		t.Fatalf("QueueMaxSize = %d, want 2", cfg.QueueMaxSize)
	}
	if cfg.AgentMode != "mock" {
		t.Fatalf("AgentMode = %q, want mock", cfg.AgentMode)
	}
	if want := []string{"Read", "Grep", "LS"}; !reflect.DeepEqual(cfg.PermissionSafeTools, want) {
		t.Fatalf("PermissionSafeTools = %v, want %v", cfg.PermissionSafeTools, want)
	}
	if cfg.PublicURL != "http://10.0.0.5:9000" {
		t.Fatalf("PublicURL = %q, want trailing slash trimmed", cfg.PublicURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"QUEUE_MAX_SIZE":       "0",
		"GATE_IDLE_TIMEOUT":    "soon",
		"PERMISSION_TIMEOUT":   "100ms",
		"AGENT_MODE":           "http",
		"AGENT_KILL_GRACE":     "0s",
		"APP_ALLOW_ANY_ORIGIN": "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv("OPERATOR_TOKEN", "tok")
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil, want error", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_PUBLIC_URL",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"OPERATOR_TOKEN",
		"OPERATOR_ID",
		"HOOK_SECRET",
		"GATE_PASSPHRASE",
		"GATE_IDLE_TIMEOUT",
		"GATE_SWEEP_INTERVAL",
		"QUEUE_MAX_SIZE",
		"AGENT_MODE",
		"AGENT_CLI_PATH",
		"AGENT_TURN_TIMEOUT",
		"AGENT_KILL_GRACE",
		"AGENT_DEFAULT_CWD",
		"PERMISSION_TIMEOUT",
		"PERMISSION_SAFE_TOOLS",
		"NATS_URL",
		"NATS_CLIENT_ID",
		"DATABASE_URL",
		"AUDIT_HISTORY_LIMIT",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"LOG_OUTPUT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
