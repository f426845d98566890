package deltatree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"nodestorage/vcs/delta"
	"nodestorage/vcs/logtree"
	"nodestorage/vcs/store"
)

func TestComposedAppliesAlongForwardPath(t *testing.T) {
	ctx := context.Background()

	logs := store.NewLogStore(store.NewMemoryBackend())
	require.NoError(t, logs.Insert(ctx, store.LogEntry{ID: "root", N: 0, Branch: "main", Timestamp: 1}))
	require.NoError(t, logs.Insert(ctx, store.LogEntry{ID: "v1", N: 1, Branch: "main", Timestamp: 2, PrevID: strPtr("root")}))
	require.NoError(t, logs.AppendChild(ctx, "root", "v1"))

	tree := logtree.New(logs)
	require.NoError(t, tree.Reload(ctx))

	d := delta.Diff(delta.Document{}, delta.Document{"name": "alice"})
	wire, err := delta.Marshal(d)
	require.NoError(t, err)

	deltas := store.NewDeltaStore(store.NewMemoryBackend())
	require.NoError(t, deltas.Insert(ctx, store.DeltaRecord{
		ID: "d1", DocumentID: "doc1", VersionN: 1, Branch: "main",
		Timestamp: 2, Forward: wire,
	}))

	partial, err := Build(ctx, deltas, "doc1")
	require.NoError(t, err)

	path, err := tree.Path(store.Version{N: 0, Branch: "main"}, store.Version{N: 1, Branch: "main"})
	require.NoError(t, err)

	composed, ok := partial.Composed(tree, path)
	require.True(t, ok)

	result, err := composed.Apply(delta.Document{})
	require.NoError(t, err)
	require.Equal(t, "alice", result["name"])
}

func strPtr(s string) *string { return &s }
