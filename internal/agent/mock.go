package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/turnstile/internal/apperrors"
)

// MockRunner replies deterministically without spawning anything.
type MockRunner struct{}

func NewMockRunner() *MockRunner { return &MockRunner{} }

func (r *MockRunner) Run(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "assistant turn cancelled")
	default:
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Result{Text: emptyResponse, SessionID: sessionID}, nil
	}
	return Result{Text: fmt.Sprintf("I heard you: %s", prompt), SessionID: sessionID}, nil
}
