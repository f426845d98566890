package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	logs := NewLogStore(NewMemoryBackend())

	root := LogEntry{ID: "root", N: 0, Branch: "main", Timestamp: 1, Message: "init"}
	require.NoError(t, logs.Insert(ctx, root))

	got, err := logs.ByVersion(ctx, Version{N: 0, Branch: "main"})
	require.NoError(t, err)
	require.Equal(t, "root", got.ID)

	child := LogEntry{ID: "v1", N: 1, Branch: "main", Timestamp: 2, Message: "v1", PrevID: strPtr("root")}
	require.NoError(t, logs.Insert(ctx, child))
	require.NoError(t, logs.AppendChild(ctx, "root", "v1"))

	parent, err := logs.ByID(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, []string{"v1"}, parent.NextIDs)

	all, err := logs.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestBranchStoreSetTip(t *testing.T) {
	ctx := context.Background()
	branches := NewBranchStore(NewMemoryBackend())

	require.NoError(t, branches.Create(ctx, BranchRecord{Name: "main", TipN: 0, TipBranch: "main"}))
	require.NoError(t, branches.SetTip(ctx, "main", Version{N: 1, Branch: "main"}))

	rec, err := branches.Get(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.TipN)
}

func TestMetadataStoreInitAndUpdate(t *testing.T) {
	ctx := context.Background()
	meta := NewMetadataStore(NewMemoryBackend())

	require.NoError(t, meta.Init(ctx, Metadata{CurrentN: 0, CurrentBranch: "main"}))
	got, err := meta.Get(ctx)
	require.NoError(t, err)
	require.False(t, got.Changed)

	require.NoError(t, meta.Update(ctx, map[string]any{"changed": true}))
	got, err = meta.Get(ctx)
	require.NoError(t, err)
	require.True(t, got.Changed)
}

func TestModifiedStoreSetAndDrop(t *testing.T) {
	ctx := context.Background()
	mod := NewModifiedStore(NewMemoryBackend())

	require.NoError(t, mod.Set(ctx, "doc1", OpInsert))
	entry, err := mod.Get(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, OpInsert, entry.Op)

	require.NoError(t, mod.Set(ctx, "doc1", OpUpdate))
	entry, err = mod.Get(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, OpUpdate, entry.Op)

	require.NoError(t, mod.Drop(ctx, "doc1"))
	_, err = mod.Get(ctx, "doc1")
	require.ErrorIs(t, err, ErrNoDocuments)
}

func TestLockStoreReentrantAcquireRelease(t *testing.T) {
	ctx := context.Background()
	locks := NewLockStore(NewMemoryBackend())
	require.NoError(t, locks.EnsureRecord(ctx, "widgets"))

	ok, err := locks.TryAcquire(ctx, "widgets", "holder-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locks.TryAcquire(ctx, "widgets", "holder-b")
	require.NoError(t, err)
	require.False(t, ok, "second holder should not acquire while locked")

	ok, err = locks.TryAcquire(ctx, "widgets", "holder-a")
	require.NoError(t, err)
	require.True(t, ok, "re-entrant acquire by the same holder succeeds")

	rec, err := locks.Get(ctx, "widgets")
	require.NoError(t, err)
	require.Equal(t, 2, rec.Depth)

	require.NoError(t, locks.Release(ctx, "widgets", "holder-a", false))
	rec, err = locks.Get(ctx, "widgets")
	require.NoError(t, err)
	require.Equal(t, 1, rec.Depth)
	require.True(t, rec.Locked)

	require.NoError(t, locks.Release(ctx, "widgets", "holder-a", true))
	rec, err = locks.Get(ctx, "widgets")
	require.NoError(t, err)
	require.False(t, rec.Locked)
	require.Equal(t, int64(1), rec.Epoch)
}

func strPtr(s string) *string { return &s }
