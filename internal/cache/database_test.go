package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutil "github.com/taskhive/taskhive/internal/database/testutil"
)

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	current := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "blacklist:jti-1", []byte("1"), time.Minute))

	value, found, err := store.Get(ctx, "blacklist:jti-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), value)

	require.NoError(t, store.Set(ctx, "blacklist:jti-1", []byte("2"), time.Minute))
	value, _, err = store.Get(ctx, "blacklist:jti-1")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), value)

	require.NoError(t, store.Delete(ctx, "blacklist:jti-1"))
	_, found, err = store.Get(ctx, "blacklist:jti-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDatabaseStoreExpiry(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	current := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("x"), time.Minute))
	require.NoError(t, store.Set(ctx, "forever", []byte("y"), 0))

	current = current.Add(2 * time.Minute)

	_, found, err := store.Get(ctx, "short")
	require.NoError(t, err)
	require.False(t, found)

	removed, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, found, err = store.Get(ctx, "forever")
	require.NoError(t, err)
	require.True(t, found)
}
