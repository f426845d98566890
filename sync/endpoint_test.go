package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nodestorage/vcs/lock"
	"nodestorage/vcs/store"
)

func newTestEndpoint(host, database, name string) Endpoint {
	locks := store.NewLockStore(store.NewMemoryBackend())
	cache := lock.NewCacheManager(16)
	opts := lock.DefaultOptions()
	opts.MaxElapsedTime = time.Second
	return Endpoint{
		Host: host, Database: database, Name: name,
		Lock: lock.New(locks, name, host, cache, opts),
	}
}

func TestAcquireBothOrdersByIdentityAndReleasesBoth(t *testing.T) {
	ctx := context.Background()
	a := newTestEndpoint("b-host", "db", "widgets")
	b := newTestEndpoint("a-host", "db", "widgets")

	release, err := AcquireBoth(ctx, a, b)
	require.NoError(t, err)
	require.NotNil(t, release)
	release(ctx, true, false)

	// Both locks should be free again: a fresh acquire on each succeeds
	// immediately instead of timing out.
	require.NoError(t, a.Lock.Acquire(ctx))
	require.NoError(t, b.Lock.Acquire(ctx))
}

func TestAcquireBothDeadlockAvoidanceIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	locksX := store.NewLockStore(store.NewMemoryBackend())
	locksY := store.NewLockStore(store.NewMemoryBackend())
	cache := lock.NewCacheManager(16)
	opts := lock.DefaultOptions()
	opts.MaxElapsedTime = time.Second

	x := Endpoint{Host: "h1", Database: "db", Name: "x", Lock: lock.New(locksX, "x", "h1", cache, opts)}
	y := Endpoint{Host: "h2", Database: "db", Name: "y", Lock: lock.New(locksY, "y", "h2", cache, opts)}

	releaseXY, err := AcquireBoth(ctx, x, y)
	require.NoError(t, err)
	releaseXY(ctx, false, false)

	releaseYX, err := AcquireBoth(ctx, y, x)
	require.NoError(t, err)
	releaseYX(ctx, false, false)
}

func TestSortByTimestampOrdersAscendingWithoutMutatingInput(t *testing.T) {
	entries := []store.LogEntry{
		{ID: "c", Timestamp: 3},
		{ID: "a", Timestamp: 1},
		{ID: "b", Timestamp: 2},
	}
	sorted := SortByTimestamp(entries)
	require.Equal(t, []string{"a", "b", "c"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	require.Equal(t, "c", entries[0].ID, "input slice order is untouched")
}
