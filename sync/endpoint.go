// Package sync implements the transport-neutral seam for push/pull between
// two versioning engines (spec §4.8), grounded on eventsync/sync_service.go's
// SyncService interface, which separates the transport (how records move
// between two parties) from the merge logic (what happens once they do).
package sync

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/mongo"

	"nodestorage/vcs/lock"
	"nodestorage/vcs/store"
)

// Endpoint is one side of a push/pull: everything needed to read and write
// a tracked collection's auxiliary stores, plus the (host, database, name)
// tuple used to order lock acquisition so two engines pushing to each other
// concurrently can't deadlock.
type Endpoint struct {
	Host     string
	Database string
	Name     string

	Target   *mongo.Collection
	Logs     *store.LogStore
	Deltas   *store.DeltaStore
	Branches *store.BranchStore
	Metadata *store.MetadataStore
	Replica  *store.ReplicaStore
	Lock     *lock.Manager
}

// identity is the tuple push/pull order two endpoints' locks by.
func (e Endpoint) identity() string {
	return e.Host + "/" + e.Database + "/" + e.Name
}

// AcquireBoth locks a and b in a fixed order derived from their identities,
// so two processes racing to sync the same pair never deadlock, and
// releases both (in reverse order) via the returned func regardless of
// which went first.
func AcquireBoth(ctx context.Context, a, b Endpoint) (release func(ctx context.Context, mutatedA, mutatedB bool), err error) {
	first, second := a, b
	if b.identity() < a.identity() {
		first, second = b, a
	}
	if err := first.Lock.Acquire(ctx); err != nil {
		return nil, err
	}
	if err := second.Lock.Acquire(ctx); err != nil {
		_ = first.Lock.Release(ctx, false)
		return nil, err
	}
	return func(ctx context.Context, mutatedA, mutatedB bool) {
		mutatedFirst, mutatedSecond := mutatedA, mutatedB
		if b.identity() < a.identity() {
			mutatedFirst, mutatedSecond = mutatedB, mutatedA
		}
		_ = second.Lock.Release(ctx, mutatedSecond)
		_ = first.Lock.Release(ctx, mutatedFirst)
	}, nil
}

// SortByTimestamp orders log entries into replication order: push/pull
// always replicate entries in the order they were originally registered.
func SortByTimestamp(entries []store.LogEntry) []store.LogEntry {
	out := append([]store.LogEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
