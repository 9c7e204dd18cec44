package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the turnstile service.
type Config struct {
	BindAddr         string
	PublicURL        string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	OperatorToken string
	HookSecret    string

	GatePassphrase    string
	GateIdleTimeout   time.Duration
	GateSweepInterval time.Duration

	QueueMaxSize int

	AgentMode        string
	AgentCLIPath     string
	AgentTurnTimeout time.Duration
	AgentKillGrace   time.Duration
	AgentDefaultCWD  string

	PermissionTimeout   time.Duration
	PermissionSafeTools []string

	NATSURL      string
	NATSClientID string

	DatabaseURL       string
	AuditHistoryLimit int

	LogLevel  string
	LogFormat string
	LogOutput string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicURL:         strings.TrimRight(envOrDefault("APP_PUBLIC_URL", "http://127.0.0.1:8080"), "/"),
		ShutdownTimeout:   15 * time.Second,
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "turnstile"),
		AllowAnyOrigin:    false,
		OperatorToken:     trimmedEnv("OPERATOR_TOKEN"),
		HookSecret:        trimmedEnv("HOOK_SECRET"),
		GatePassphrase:    trimmedEnv("GATE_PASSPHRASE"),
		GateIdleTimeout:   15 * time.Minute,
		GateSweepInterval: time.Minute,
		QueueMaxSize:      5,
		AgentMode:         strings.ToLower(envOrDefault("AGENT_MODE", "cli")),
		AgentCLIPath:      envOrDefault("AGENT_CLI_PATH", "claude"),
		AgentTurnTimeout:  300 * time.Second,
		AgentKillGrace:    10 * time.Second,
		AgentDefaultCWD:   trimmedEnv("AGENT_DEFAULT_CWD"),
		PermissionTimeout: 10 * time.Minute,
		NATSURL:           trimmedEnv("NATS_URL"),
		NATSClientID:      envOrDefault("NATS_CLIENT_ID", "turnstile"),
		DatabaseURL:       trimmedEnv("DATABASE_URL"),
		AuditHistoryLimit: 500,
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		LogFormat:         envOrDefault("LOG_FORMAT", "json"),
		LogOutput:         envOrDefault("LOG_OUTPUT", "stdout"),
	}
	cfg.PermissionSafeTools = csvFromEnv("PERMISSION_SAFE_TOOLS")

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.GateIdleTimeout, err = durationFromEnv("GATE_IDLE_TIMEOUT", cfg.GateIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GateSweepInterval, err = durationFromEnv("GATE_SWEEP_INTERVAL", cfg.GateSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.QueueMaxSize, err = intFromEnv("QUEUE_MAX_SIZE", cfg.QueueMaxSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentTurnTimeout, err = durationFromEnv("AGENT_TURN_TIMEOUT", cfg.AgentTurnTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentKillGrace, err = durationFromEnv("AGENT_KILL_GRACE", cfg.AgentKillGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.PermissionTimeout, err = durationFromEnv("PERMISSION_TIMEOUT", cfg.PermissionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AuditHistoryLimit, err = intFromEnv("AUDIT_HISTORY_LIMIT", cfg.AuditHistoryLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.OperatorToken == "" {
		return Config{}, fmt.Errorf("OPERATOR_TOKEN is required")
	}
	if cfg.QueueMaxSize <= 0 {
		return Config{}, fmt.Errorf("QUEUE_MAX_SIZE must be positive")
	}
	if cfg.GateIdleTimeout < 0 {
		return Config{}, fmt.Errorf("GATE_IDLE_TIMEOUT must be >= 0")
	}
	if cfg.GateSweepInterval < time.Second {
		return Config{}, fmt.Errorf("GATE_SWEEP_INTERVAL must be at least 1s")
	}
	if cfg.PermissionTimeout < time.Second {
		return Config{}, fmt.Errorf("PERMISSION_TIMEOUT must be at least 1s")
	}
	if cfg.AgentTurnTimeout <= 0 {
		return Config{}, fmt.Errorf("AGENT_TURN_TIMEOUT must be positive")
	}
	if cfg.AgentKillGrace <= 0 {
		return Config{}, fmt.Errorf("AGENT_KILL_GRACE must be positive")
	}
	if cfg.AuditHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("AUDIT_HISTORY_LIMIT must be positive")
	}
	switch cfg.AgentMode {
	case "cli", "mock":
	default:
		return Config{}, fmt.Errorf("AGENT_MODE must be cli or mock, got %q", cfg.AgentMode)
	}

	return cfg, nil
}

// GateEnabled reports whether a passphrase was configured.
func (c Config) GateEnabled() bool {
	return c.GatePassphrase != ""
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func csvFromEnv(key string) []string {
	v := trimmedEnv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
