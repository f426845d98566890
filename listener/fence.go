package listener

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// sentinelIDPrefix starts the reserved document ids used purely to generate
// a change event the listener can observe; each sentinel is inserted by
// Fence and deleted when Fence returns so it never lingers as real
// application data.
const sentinelIDPrefix = "__vc_fence_"

// Fence blocks until the listener has observed the change event for a
// sentinel document inserted after this call began, converting the
// eventually-consistent change stream into a happens-before boundary for
// the caller, per spec §4.5's fence protocol: the sentinel's own change
// event is ordered strictly after every event that preceded the insert (the
// oplog and the change stream built on it are totally ordered per
// collection), so observing it proves the backlog up to that point has
// drained, not merely that some event has. It returns ErrStalled if timeout
// elapses first.
func (l *Listener) Fence(ctx context.Context, timeout time.Duration) error {
	sentinelID := fmt.Sprintf("%s%d", sentinelIDPrefix, atomic.AddInt64(&l.sentinel, 1))
	waiter := l.registerSentinelWaiter(sentinelID)
	defer l.forgetSentinelWaiter(sentinelID)

	if l.collection != nil {
		if _, err := l.collection.InsertOne(ctx, bson.M{"_id": sentinelID}); err != nil {
			return fmt.Errorf("listener: fence sentinel insert: %w", err)
		}
		defer l.collection.DeleteOne(context.Background(), bson.M{"_id": sentinelID})
	}

	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-waiter:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
		if l.Status().State == StateStalled {
			return ErrStalled
		}
		if time.Now().After(deadline) {
			return ErrStalled
		}
	}
}
