package domain

import (
	"context"
	"time"
)

// Store keeps drafts keyed by correlation id until they expire.
type Store interface {
	Put(ctx context.Context, draft Draft, ttl time.Duration) error
	Get(ctx context.Context, correlationID string) (Draft, bool, error)
	Delete(ctx context.Context, correlationID string) error
}
