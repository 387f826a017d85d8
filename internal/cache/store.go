package cache

import (
	"context"
	"time"
)

// Store is a small key/value cache with per-key expiry.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
	// DeleteExpired removes entries past their expiry. Backends with native expiry return 0.
	DeleteExpired(ctx context.Context) (int64, error)
}
