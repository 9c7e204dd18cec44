// Package hookclient is the assistant-side half of the authorization
// callback: it forwards hook payloads to the server and prints its answer.
package hookclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/permission"
	"github.com/ent0n29/turnstile/internal/reliability"
)

const (
	HeaderHookSecret  = "X-Turnstile-Hook-Secret"
	PathPreToolUse    = "/v1/hooks/pre-tool-use"
	PathSessionReport = "/v1/hooks/session"

	maxResponseBytes = 1 << 20
)

// DefaultRetry retries connection failures and retryable statuses.
var DefaultRetry = reliability.Policy{Attempts: 4, Base: 250 * time.Millisecond, Cap: 2 * time.Second}

type Client struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client
	Retry      reliability.Policy
	Log        *logger.Logger
}

func New(baseURL, secret string, log *logger.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Secret:     strings.TrimSpace(secret),
		HTTPClient: &http.Client{},
		Retry:      DefaultRetry,
		Log:        logger.OrDefault(log),
	}
}

// PreToolUse forwards the hook payload and returns the decision envelope to
// print. It never fails: any transport or decoding problem yields a deny
// envelope.
func (c *Client) PreToolUse(ctx context.Context, payload []byte) []byte {
	body, err := c.post(ctx, PathPreToolUse, payload)
	if err != nil {
		c.log().Warn("authorization callback failed, denying", zap.Error(err))
		return denyEnvelope("Approval server unreachable: " + err.Error())
	}

	var env permission.Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.HookSpecificOutput.PermissionDecision == "" {
		c.log().Warn("authorization callback returned an unreadable body, denying")
		return denyEnvelope("Approval server returned an invalid response")
	}
	out, err := json.Marshal(env.Decision().Envelope())
	if err != nil {
		return denyEnvelope("Approval server returned an invalid response")
	}
	return out
}

// Report forwards a session notification.
func (c *Client) Report(ctx context.Context, payload []byte) error {
	_, err := c.post(ctx, PathSessionReport, payload)
	return err
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("server url is not configured")
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var body []byte
	err := reliability.Do(ctx, c.Retry, func(attempt int) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.Secret != "" {
			req.Header.Set(HeaderHookSecret, c.Secret)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return reliability.IsRetryableError(err), err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return reliability.IsRetryableError(err), err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return reliability.IsRetryableHTTPStatus(resp.StatusCode),
				fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		body = data
		return false, nil
	})
	return body, err
}

func (c *Client) log() *logger.Logger {
	return logger.OrDefault(c.Log)
}

func denyEnvelope(reason string) []byte {
	out, err := json.Marshal(permission.Deny(reason).Envelope())
	if err != nil {
		return []byte(`{"hookSpecificOutput":{"hookEventName":"PreToolUse","permissionDecision":"deny"}}`)
	}
	return out
}
