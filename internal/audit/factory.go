package audit

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise an
// in-memory ring holding the last limit entries.
func NewStore(ctx context.Context, databaseURL string, limit int) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(limit), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
