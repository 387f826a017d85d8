package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutil "github.com/taskhive/taskhive/internal/database/testutil"
	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/pkg/crypto"
)

type storeFactory func(t *testing.T, clock *testClock) TokenStore

var tokenStores = map[string]storeFactory{
	"gorm": func(t *testing.T, clock *testClock) TokenStore {
		db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
		store, err := NewGormTokenStore(db, clock.Now)
		require.NoError(t, err)
		return store
	},
	"memory": func(t *testing.T, clock *testClock) TokenStore {
		return NewMemoryTokenStore(clock.Now)
	},
}

func forEachStore(t *testing.T, fn func(t *testing.T, store TokenStore, clock *testClock)) {
	for name, factory := range tokenStores {
		t.Run(name, func(t *testing.T) {
			clock := newTestClock()
			fn(t, factory(t, clock), clock)
		})
	}
}

func refreshRecord(clock *testClock, userID, raw, family string) RefreshTokenRecord {
	return RefreshTokenRecord{
		UserID:      userID,
		Raw:         raw,
		JTI:         "jti-" + raw,
		TokenFamily: family,
		DeviceInfo:  "laptop",
		ExpiresAt:   clock.Now().Add(time.Hour),
	}
}

func TestTokenStoreSavesOnlyHashes(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	store, err := NewGormTokenStore(db, clock.Now)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.SaveRefreshToken(ctx, refreshRecord(clock, "user-1", "raw-refresh", "fam-1"))
	require.NoError(t, err)
	_, err = store.SaveResetToken(ctx, ResetTokenRecord{UserID: "user-1", Raw: "raw-reset", JTI: "r1", ExpiresAt: clock.Now().Add(time.Hour)})
	require.NoError(t, err)

	var refresh models.RefreshToken
	require.NoError(t, db.Take(&refresh).Error)
	require.Equal(t, crypto.HashToken("raw-refresh"), refresh.TokenHash)
	require.NotContains(t, refresh.TokenHash, "raw-refresh")

	var reset models.PasswordResetToken
	require.NoError(t, db.Take(&reset).Error)
	require.Equal(t, crypto.HashToken("raw-reset"), reset.TokenHash)
}

func TestTokenStoreFindRefreshToken(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TokenStore, clock *testClock) {
		ctx := context.Background()
		_, err := store.SaveRefreshToken(ctx, refreshRecord(clock, "user-1", "raw-1", "fam-1"))
		require.NoError(t, err)

		row, err := store.FindRefreshToken(ctx, "raw-1")
		require.NoError(t, err)
		require.Equal(t, "user-1", row.UserID)
		require.Equal(t, "fam-1", row.TokenFamily)

		_, err = store.FindRefreshToken(ctx, "unknown")
		require.ErrorIs(t, err, ErrTokenNotFound)

		clock.Advance(time.Hour)
		_, err = store.FindRefreshToken(ctx, "raw-1")
		require.ErrorIs(t, err, ErrTokenNotFound)
	})
}

func TestTokenStoreRotateIsSingleUse(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TokenStore, clock *testClock) {
		ctx := context.Background()
		_, err := store.SaveRefreshToken(ctx, refreshRecord(clock, "user-1", "raw-1", "fam-1"))
		require.NoError(t, err)

		clock.Advance(time.Minute)
		next, err := store.RotateRefreshToken(ctx, "raw-1", refreshRecord(clock, "user-1", "raw-2", "fam-1"))
		require.NoError(t, err)
		require.Equal(t, "fam-1", next.TokenFamily)

		_, err = store.RotateRefreshToken(ctx, "raw-1", refreshRecord(clock, "user-1", "raw-3", "fam-1"))
		require.ErrorIs(t, err, ErrTokenNotFound)

		_, err = store.FindRefreshToken(ctx, "raw-1")
		require.ErrorIs(t, err, ErrTokenNotFound)
		_, err = store.FindRefreshToken(ctx, "raw-2")
		require.NoError(t, err)
		_, err = store.FindRefreshToken(ctx, "raw-3")
		require.ErrorIs(t, err, ErrTokenNotFound)

		family, err := store.FindTokensByFamily(ctx, "fam-1")
		require.NoError(t, err)
		require.Len(t, family, 2)
		require.Equal(t, crypto.HashToken("raw-2"), family[0].TokenHash)
		require.NotNil(t, family[1].RevokedReason)
		require.Equal(t, models.RevokeRotated, *family[1].RevokedReason)
	})
}

func TestTokenStoreRotateRejectsForeignFamily(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TokenStore, clock *testClock) {
		ctx := context.Background()
		_, err := store.SaveRefreshToken(ctx, refreshRecord(clock, "user-1", "raw-1", "fam-1"))
		require.NoError(t, err)

		_, err = store.RotateRefreshToken(ctx, "raw-1", refreshRecord(clock, "user-1", "raw-2", "fam-other"))
		require.ErrorIs(t, err, ErrTokenNotFound)

		_, err = store.FindRefreshToken(ctx, "raw-1")
		require.NoError(t, err)
	})
}

func TestTokenStoreInvalidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TokenStore, clock *testClock) {
		ctx := context.Background()
		for _, rec := range []RefreshTokenRecord{
			refreshRecord(clock, "user-1", "a", "fam-a"),
			refreshRecord(clock, "user-1", "b", "fam-b"),
			refreshRecord(clock, "user-2", "c", "fam-c"),
			refreshRecord(clock, "user-2", "d", "fam-c"),
		} {
			_, err := store.SaveRefreshToken(ctx, rec)
			require.NoError(t, err)
		}

		require.NoError(t, store.InvalidateToken(ctx, "a"))
		require.NoError(t, store.InvalidateToken(ctx, "missing"))
		_, err := store.FindRefreshToken(ctx, "a")
		require.ErrorIs(t, err, ErrTokenNotFound)

		revoked, err := store.InvalidateUserTokens(ctx, "user-1", models.RevokeUserLogout)
		require.NoError(t, err)
		require.EqualValues(t, 1, revoked)

		revoked, err = store.InvalidateTokenFamily(ctx, "fam-c")
		require.NoError(t, err)
		require.EqualValues(t, 2, revoked)

		family, err := store.FindTokensByFamily(ctx, "fam-c")
		require.NoError(t, err)
		for _, row := range family {
			require.NotNil(t, row.RevokedAt)
			require.Equal(t, models.RevokeTokenReuseDetected, *row.RevokedReason)
		}

		first, err := store.FindTokensByFamily(ctx, "fam-a")
		require.NoError(t, err)
		require.Equal(t, models.RevokeManualInvalidation, *first[0].RevokedReason)
	})
}

func TestTokenStoreResetTokens(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TokenStore, clock *testClock) {
		ctx := context.Background()
		rec := ResetTokenRecord{UserID: "user-1", Raw: "reset-1", JTI: "r1", ExpiresAt: clock.Now().Add(time.Hour)}
		_, err := store.SaveResetToken(ctx, rec)
		require.NoError(t, err)

		row, err := store.FindResetToken(ctx, "reset-1")
		require.NoError(t, err)
		require.Equal(t, "r1", row.JTI)

		require.NoError(t, store.MarkResetTokenUsed(ctx, "reset-1"))
		require.ErrorIs(t, store.MarkResetTokenUsed(ctx, "reset-1"), ErrTokenNotFound)
		_, err = store.FindResetToken(ctx, "reset-1")
		require.ErrorIs(t, err, ErrTokenNotFound)

		// A released claim makes the token usable again, exactly once.
		require.NoError(t, store.RestoreResetToken(ctx, "reset-1"))
		require.ErrorIs(t, store.RestoreResetToken(ctx, "reset-1"), ErrTokenNotFound)
		_, err = store.FindResetToken(ctx, "reset-1")
		require.NoError(t, err)
		require.NoError(t, store.MarkResetTokenUsed(ctx, "reset-1"))
		require.ErrorIs(t, store.RestoreResetToken(ctx, "unknown"), ErrTokenNotFound)
	})
}

func TestTokenStoreNewResetTokenSupersedesOld(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TokenStore, clock *testClock) {
		ctx := context.Background()
		_, err := store.SaveResetToken(ctx, ResetTokenRecord{UserID: "user-1", Raw: "old", JTI: "r1", ExpiresAt: clock.Now().Add(time.Hour)})
		require.NoError(t, err)
		_, err = store.SaveResetToken(ctx, ResetTokenRecord{UserID: "user-1", Raw: "new", JTI: "r2", ExpiresAt: clock.Now().Add(time.Hour)})
		require.NoError(t, err)

		_, err = store.FindResetToken(ctx, "old")
		require.ErrorIs(t, err, ErrTokenNotFound)
		_, err = store.FindResetToken(ctx, "new")
		require.NoError(t, err)
	})
}

func TestTokenStoreBlacklist(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TokenStore, clock *testClock) {
		ctx := context.Background()
		entry := BlacklistEntry{
			JTI:       "jti-1",
			TokenType: models.TokenTypeAccess,
			UserID:    "user-1",
			ExpiresAt: clock.Now().Add(10 * time.Minute),
			Reason:    "logout",
		}
		require.NoError(t, store.AddToBlacklist(ctx, entry))
		require.NoError(t, store.AddToBlacklist(ctx, entry))

		listed, err := store.IsBlacklisted(ctx, "jti-1")
		require.NoError(t, err)
		require.True(t, listed)

		expiresAt, found, err := store.BlacklistExpiry(ctx, "jti-1")
		require.NoError(t, err)
		require.True(t, found)
		require.True(t, expiresAt.Equal(entry.ExpiresAt))

		listed, err = store.IsBlacklisted(ctx, "jti-2")
		require.NoError(t, err)
		require.False(t, listed)

		clock.Advance(11 * time.Minute)
		listed, err = store.IsBlacklisted(ctx, "jti-1")
		require.NoError(t, err)
		require.False(t, listed)
	})
}

func TestTokenStoreCleanExpiredTokens(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TokenStore, clock *testClock) {
		ctx := context.Background()

		short := refreshRecord(clock, "user-1", "short", "fam-1")
		short.ExpiresAt = clock.Now().Add(time.Minute)
		_, err := store.SaveRefreshToken(ctx, short)
		require.NoError(t, err)

		long := refreshRecord(clock, "user-1", "long", "fam-2")
		long.ExpiresAt = clock.Now().Add(48 * time.Hour)
		_, err = store.SaveRefreshToken(ctx, long)
		require.NoError(t, err)

		_, err = store.SaveResetToken(ctx, ResetTokenRecord{UserID: "user-1", Raw: "reset", JTI: "r1", ExpiresAt: clock.Now().Add(time.Minute)})
		require.NoError(t, err)
		require.NoError(t, store.AddToBlacklist(ctx, BlacklistEntry{JTI: "jti-1", TokenType: models.TokenTypeAccess, ExpiresAt: clock.Now().Add(time.Minute)}))

		clock.Advance(time.Hour)
		stats, err := store.CleanExpiredTokens(ctx)
		require.NoError(t, err)
		require.Equal(t, CleanupStats{RefreshTokens: 1, ResetTokens: 1, Blacklist: 1}, stats)
		require.EqualValues(t, 3, stats.Total())

		_, err = store.FindRefreshToken(ctx, "long")
		require.NoError(t, err)
	})
}
