package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taskhive/taskhive/internal/cache"
	"github.com/taskhive/taskhive/pkg/logger"
)

const blacklistCacheKeyPrefix = "auth:blacklist:"

// cachedBlacklistStore mirrors blacklist entries into a cache.Store so the hot
// IsBlacklisted path on every authenticated request rarely reaches the database.
// Only positive entries are cached, including ones found in the store after a
// cache miss; the token store stays authoritative.
type cachedBlacklistStore struct {
	TokenStore
	cache cache.Store
	now   func() time.Time
}

// WithBlacklistCache decorates store with a cache for blacklist lookups. A nil cache returns store unchanged.
func WithBlacklistCache(store TokenStore, c cache.Store, clock func() time.Time) TokenStore {
	if store == nil || c == nil {
		return store
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &cachedBlacklistStore{TokenStore: store, cache: c, now: clock}
}

func (s *cachedBlacklistStore) AddToBlacklist(ctx context.Context, entry BlacklistEntry) error {
	if err := s.TokenStore.AddToBlacklist(ctx, entry); err != nil {
		return err
	}
	s.remember(ctx, entry.JTI, entry.ExpiresAt.Sub(s.now()))
	return nil
}

func (s *cachedBlacklistStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}

	if _, found, err := s.cache.Get(ctx, blacklistCacheKeyPrefix+jti); err == nil && found {
		return true, nil
	} else if err != nil {
		logger.WithModule("auth").Warn("blacklist cache lookup failed", zap.Error(err))
	}

	expiresAt, found, err := s.TokenStore.BlacklistExpiry(ctx, jti)
	if err != nil || !found {
		return false, err
	}
	s.remember(ctx, jti, expiresAt.Sub(s.now()))
	return true, nil
}

func (s *cachedBlacklistStore) remember(ctx context.Context, jti string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, blacklistCacheKeyPrefix+jti, []byte{1}, ttl); err != nil {
		// Cache failures are non-fatal.
		logger.WithModule("auth").Warn("blacklist cache write failed", zap.Error(err))
	}
}
