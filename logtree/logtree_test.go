package logtree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"nodestorage/vcs/store"
)

func seedTree(t *testing.T) *Tree {
	t.Helper()
	ctx := context.Background()
	backend := store.NewMemoryBackend()
	logs := store.NewLogStore(backend)

	entries := []store.LogEntry{
		{ID: "root", N: 0, Branch: "main", Timestamp: 1},
		{ID: "v1", N: 1, Branch: "main", Timestamp: 2, PrevID: strPtr("root")},
		{ID: "v2", N: 2, Branch: "main", Timestamp: 3, PrevID: strPtr("v1")},
		{ID: "b0", N: -1, Branch: "b", Timestamp: 4, PrevID: strPtr("v1")},
		{ID: "b1", N: 0, Branch: "b", Timestamp: 5, PrevID: strPtr("b0")},
	}
	for _, e := range entries {
		require.NoError(t, logs.Insert(ctx, e))
	}
	require.NoError(t, logs.AppendChild(ctx, "root", "v1"))
	require.NoError(t, logs.AppendChild(ctx, "v1", "v2"))
	require.NoError(t, logs.AppendChild(ctx, "v1", "b0"))
	require.NoError(t, logs.AppendChild(ctx, "b0", "b1"))

	tree := New(logs)
	require.NoError(t, tree.Reload(ctx))
	return tree
}

func strPtr(s string) *string { return &s }

func TestReloadBuildsLevelsFromRoot(t *testing.T) {
	tree := seedTree(t)
	root, ok := tree.Root()
	require.True(t, ok)
	require.Equal(t, 0, root.Level)

	v2, ok := tree.NodeByVersion(store.Version{N: 2, Branch: "main"})
	require.True(t, ok)
	require.Equal(t, 2, v2.Level)

	b1, ok := tree.NodeByVersion(store.Version{N: 0, Branch: "b"})
	require.True(t, ok)
	require.Equal(t, 3, b1.Level)
}

func TestLCAAndPathBetweenBranches(t *testing.T) {
	tree := seedTree(t)

	v2 := store.Version{N: 2, Branch: "main"}
	b1 := store.Version{N: 0, Branch: "b"}

	lca, ok := tree.LCA(v2, b1)
	require.True(t, ok)
	require.Equal(t, store.Version{N: 1, Branch: "main"}, lca)

	path, err := tree.Path(v2, b1)
	require.NoError(t, err)
	require.NotEmpty(t, path)
	require.Equal(t, Backward, path[0].Direction)
	require.Equal(t, Forward, path[len(path)-1].Direction)
	require.Equal(t, b1, path[len(path)-1].Version)
}

func TestPathIsReversible(t *testing.T) {
	tree := seedTree(t)

	v2 := store.Version{N: 2, Branch: "main"}
	b1 := store.Version{N: 0, Branch: "b"}

	forward, err := tree.Path(v2, b1)
	require.NoError(t, err)
	backward, err := tree.Path(b1, v2)
	require.NoError(t, err)

	require.Equal(t, len(forward), len(backward))
	for i := range forward {
		mirror := backward[len(backward)-1-i]
		require.Equal(t, forward[i].Version, mirror.Version)
		require.NotEqual(t, forward[i].Direction, mirror.Direction)
	}
}

func TestPathEmptyWhenEqual(t *testing.T) {
	tree := seedTree(t)
	v2 := store.Version{N: 2, Branch: "main"}
	path, err := tree.Path(v2, v2)
	require.NoError(t, err)
	require.Empty(t, path)
}

func TestSuccAndPred(t *testing.T) {
	tree := seedTree(t)
	root := store.Version{N: 0, Branch: "main"}

	succ := tree.Succ(root)
	require.Len(t, succ, 4)

	b1 := store.Version{N: 0, Branch: "b"}
	pred := tree.Pred(b1)
	require.Equal(t, []store.Version{
		{N: -1, Branch: "b"},
		{N: 1, Branch: "main"},
		{N: 0, Branch: "main"},
	}, pred)
}
