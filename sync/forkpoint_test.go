package sync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nodestorage/vcs/store"
)

func strPtr(s string) *string { return &s }

func TestForkPointFindsSharedAncestorByID(t *testing.T) {
	shared := []store.LogEntry{
		{ID: "root", N: 0, Branch: "main", Timestamp: 1},
		{ID: "v1", N: 1, Branch: "main", Timestamp: 2, PrevID: strPtr("root")},
	}
	localOnly := store.LogEntry{ID: "v2-local", N: 2, Branch: "main", Timestamp: 3, PrevID: strPtr("v1")}
	remoteOnly := store.LogEntry{ID: "v2-remote", N: 2, Branch: "main", Timestamp: 4, PrevID: strPtr("v1")}

	local := append(append([]store.LogEntry{}, shared...), localOnly)
	remote := append(append([]store.LogEntry{}, shared...), remoteOnly)

	fork, ok := ForkPoint(local, remote, "main")
	require.True(t, ok)
	require.Equal(t, store.Version{N: 1, Branch: "main"}, fork)
}

func TestForkPointFastForward(t *testing.T) {
	entries := []store.LogEntry{
		{ID: "root", N: 0, Branch: "main", Timestamp: 1},
		{ID: "v1", N: 1, Branch: "main", Timestamp: 2, PrevID: strPtr("root")},
		{ID: "v2", N: 2, Branch: "main", Timestamp: 3, PrevID: strPtr("v1")},
	}
	// remote has only root: local's tip (v2) should walk back to root.
	fork, ok := ForkPoint(entries, entries[:1], "main")
	require.True(t, ok)
	require.Equal(t, store.Version{N: 0, Branch: "main"}, fork)
}

func TestForkPointNoSharedAncestorWhenIDsDiffer(t *testing.T) {
	local := []store.LogEntry{
		{ID: "root", N: 0, Branch: "main", Timestamp: 1},
	}
	remote := []store.LogEntry{
		{ID: "root-other", N: 0, Branch: "main", Timestamp: 1},
	}
	_, ok := ForkPoint(local, remote, "main")
	require.False(t, ok)
}

func TestForkPointUnknownBranchReturnsFalse(t *testing.T) {
	local := []store.LogEntry{{ID: "root", N: 0, Branch: "main", Timestamp: 1}}
	_, ok := ForkPoint(local, local, "nonexistent")
	require.False(t, ok)
}
