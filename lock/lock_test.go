package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nodestorage/vcs/logtree"
	"nodestorage/vcs/store"
)

func TestAcquireReleaseReentrant(t *testing.T) {
	ctx := context.Background()
	locks := store.NewLockStore(store.NewMemoryBackend())
	cache := NewCacheManager(16)

	opts := DefaultOptions()
	opts.MaxElapsedTime = time.Second

	m := New(locks, "widgets", "holder-a", cache, opts)

	require.NoError(t, m.Acquire(ctx))
	require.NoError(t, m.Acquire(ctx), "re-entrant acquire by the same manager succeeds")

	require.NoError(t, m.Release(ctx, false))
	rec, err := locks.Get(ctx, "widgets")
	require.NoError(t, err)
	require.True(t, rec.Locked, "still held after first release (depth was 2)")

	require.NoError(t, m.Release(ctx, true))
	rec, err = locks.Get(ctx, "widgets")
	require.NoError(t, err)
	require.False(t, rec.Locked)
	require.Equal(t, int64(1), rec.Epoch)
}

func TestAcquireTimesOutWhenHeldByOther(t *testing.T) {
	ctx := context.Background()
	locks := store.NewLockStore(store.NewMemoryBackend())
	cache := NewCacheManager(16)

	opts := Options{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxElapsedTime: 50 * time.Millisecond}

	a := New(locks, "widgets", "holder-a", cache, opts)
	b := New(locks, "widgets", "holder-b", cache, opts)

	require.NoError(t, a.Acquire(ctx))
	err := b.Acquire(ctx)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestCacheInvalidatedOnEpochMismatch(t *testing.T) {
	ctx := context.Background()
	locks := store.NewLockStore(store.NewMemoryBackend())
	cache := NewCacheManager(16)
	opts := DefaultOptions()
	opts.MaxElapsedTime = time.Second

	a := New(locks, "widgets", "holder-a", cache, opts)
	require.NoError(t, a.Acquire(ctx))
	cache.SetLogTree(logtree.New(store.NewLogStore(store.NewMemoryBackend())))
	require.NoError(t, a.Release(ctx, true))

	require.NoError(t, a.Acquire(ctx))
	require.Nil(t, cache.LogTree(), "epoch advanced since a's last acquire, so the cached log tree is dropped")
	require.NoError(t, a.Release(ctx, true))

	b := New(locks, "widgets", "holder-b", cache, opts)
	require.NoError(t, b.Acquire(ctx), "new manager with a fresh lastSeenEpoch should still acquire")
}
