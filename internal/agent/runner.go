// Package agent runs one turn of the external assistant process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/turnstile/internal/logger"
)

// Request is one turn against a working directory. An empty SessionID starts
// a new conversation.
type Request struct {
	Prompt           string `json:"prompt"`
	SessionID        string `json:"session_id,omitempty"`
	WorkingDirectory string `json:"working_directory"`
}

// Result is the parsed reply. SessionID is the id the process reported, or
// the requested one when it reported none.
type Result struct {
	Text      string         `json:"text"`
	SessionID string         `json:"session_id"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// Runner executes turns.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Config controls runner construction.
type Config struct {
	Mode        string
	CLIPath     string
	TurnTimeout time.Duration
	KillGrace   time.Duration
	PublicURL   string
	HookSecret  string
	Logger      *logger.Logger
}

func NewRunner(cfg Config) (Runner, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "cli"
	}
	switch mode {
	case "cli":
		if strings.TrimSpace(cfg.CLIPath) == "" {
			return nil, errors.New("assistant CLI path is required for cli mode")
		}
		return NewCLIRunner(cfg), nil
	case "mock":
		return NewMockRunner(), nil
	default:
		return nil, fmt.Errorf("unsupported agent mode %q", cfg.Mode)
	}
}
