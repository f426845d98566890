// Package listener implements the change-capture pipeline described by
// spec §4.5: a single long-lived background task per engine instance that
// consumes C's change stream, maintains the `modified` tracker table with
// the coalescing precedence table below, and exposes a fence so versioning
// operations can establish a happens-before boundary against it.
//
// Grounded on nodestorage/v2/storage_impl.go's startWatching/broadcastEvent
// (change-stream goroutine, bson.M event decoding, operation-type mapping)
// and eventsync/storage_listener.go's listener-as-bridge shape; the fence
// itself generalizes eventsync/state_vector.go's vector-clock bookkeeping
// down to a single in-process watermark, since the fence has exactly one
// reader (the operation thread).
package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nodestorage/vcs/internal/vlog"
	"nodestorage/vcs/store"
)

// State is the listener's externally-observable run state.
type State int

const (
	StateRunning State = iota
	StateStalled
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStalled:
		return "stalled"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of the listener, readable without
// blocking, satisfying spec §7's "listener reports fatal errors via a
// status channel readable by the next fence attempt."
type Status struct {
	State    State
	LastErr  error
	Watched  int64 // monotonically increasing count of events applied
}

// Listener is the background change-stream consumer.
type Listener struct {
	collection *mongo.Collection
	modified   *store.ModifiedStore
	metadata   *store.MetadataStore
	replica    *store.ReplicaStore

	mu         sync.Mutex
	status     Status
	watermark  int64 // highest applied sequence number
	sentinel   int64 // next sentinel sequence number to hand out

	sentinelMu      sync.Mutex
	sentinelWaiters map[string]chan int64

	cancel context.CancelFunc
	done   chan struct{}
}

func New(collection *mongo.Collection, modified *store.ModifiedStore, metadata *store.MetadataStore, replica *store.ReplicaStore) *Listener {
	return &Listener{
		collection:      collection,
		modified:        modified,
		metadata:        metadata,
		replica:         replica,
		status:          Status{State: StateStopped},
		sentinelWaiters: map[string]chan int64{},
	}
}

// Status returns the current listener status without blocking.
func (l *Listener) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Listener) setState(s State, err error) {
	l.mu.Lock()
	l.status.State = s
	if err != nil {
		l.status.LastErr = err
	}
	l.mu.Unlock()
}

// Start begins consuming the change stream in a background goroutine,
// resuming from the persisted resume token if one exists.
func (l *Listener) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	meta, err := l.metadata.Get(ctx)
	if err != nil {
		return fmt.Errorf("listener: read metadata: %w", err)
	}

	streamOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if len(meta.ResumeToken) > 0 {
		streamOpts.SetResumeAfter(meta.ResumeToken)
	}

	stream, err := l.collection.Watch(runCtx, mongo.Pipeline{}, streamOpts)
	if err != nil {
		return fmt.Errorf("listener: open change stream: %w", err)
	}

	l.setState(StateRunning, nil)
	go l.run(runCtx, stream)
	return nil
}

// Stop flips the shutdown flag checked at each event and waits for the
// background goroutine to persist its resume token before returning,
// per spec §5's cancellation contract.
func (l *Listener) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.setState(StateStopped, nil)
}

func (l *Listener) run(ctx context.Context, stream *mongo.ChangeStream) {
	defer close(l.done)
	defer stream.Close(context.Background())

	for {
		if ctx.Err() != nil {
			return
		}
		if !stream.Next(ctx) {
			if err := stream.Err(); err != nil {
				if isResumeTokenExpired(err) {
					vlog.Warn("listener: resume token expired, falling back to full resync")
					l.resync(context.Background())
					continue
				}
				l.setState(StateStalled, err)
				vlog.Error("listener: change stream error")
				l.backoffThenContinue(ctx)
				continue
			}
			return
		}

		var event bson.M
		if err := stream.Decode(&event); err != nil {
			l.setState(StateStalled, err)
			continue
		}

		sentinelID, isSentinel := sentinelDocID(event)
		if !isSentinel {
			if err := l.applyEvent(ctx, event); err != nil {
				l.setState(StateStalled, err)
				continue
			}
		}

		token := stream.ResumeToken()
		var perr error
		if isSentinel {
			perr = l.metadata.Update(ctx, bson.M{"resume_token": token})
		} else {
			perr = l.metadata.SetResumeToken(ctx, token, true)
		}
		if perr != nil {
			l.setState(StateStalled, perr)
			continue
		}

		seq := atomic.AddInt64(&l.watermark, 1)
		l.mu.Lock()
		l.status.Watched = seq
		l.status.State = StateRunning
		l.mu.Unlock()

		if isSentinel {
			l.signalSentinel(sentinelID, seq)
		}
	}
}

// sentinelDocID reports whether event is a change event on a fence sentinel
// document, per Fence's sentinel-correlation protocol below.
func sentinelDocID(event bson.M) (string, bool) {
	docKey, _ := event["documentKey"].(bson.M)
	if docKey == nil {
		return "", false
	}
	id, err := documentIDString(docKey["_id"])
	if err != nil {
		return "", false
	}
	return id, strings.HasPrefix(id, sentinelIDPrefix)
}

// registerSentinelWaiter returns a channel that receives the watermark
// sequence number assigned to id's change event once the listener observes
// it, letting Fence block on the exact event rather than on "any progress."
func (l *Listener) registerSentinelWaiter(id string) chan int64 {
	ch := make(chan int64, 1)
	l.sentinelMu.Lock()
	l.sentinelWaiters[id] = ch
	l.sentinelMu.Unlock()
	return ch
}

func (l *Listener) forgetSentinelWaiter(id string) {
	l.sentinelMu.Lock()
	delete(l.sentinelWaiters, id)
	l.sentinelMu.Unlock()
}

func (l *Listener) signalSentinel(id string, seq int64) {
	l.sentinelMu.Lock()
	ch, ok := l.sentinelWaiters[id]
	delete(l.sentinelWaiters, id)
	l.sentinelMu.Unlock()
	if ok {
		ch <- seq
	}
}

func (l *Listener) backoffThenContinue(ctx context.Context) {
	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
	}
}

func (l *Listener) applyEvent(ctx context.Context, event bson.M) error {
	opType, _ := event["operationType"].(string)
	docKey, _ := event["documentKey"].(bson.M)
	if docKey == nil {
		return nil
	}
	id, err := documentIDString(docKey["_id"])
	if err != nil {
		return err
	}

	var newOp store.Op
	switch opType {
	case "insert":
		newOp = store.OpInsert
	case "update", "replace":
		newOp = store.OpUpdate
	case "delete":
		newOp = store.OpDelete
	default:
		return nil
	}

	existing, err := l.modified.Get(ctx, id)
	if err != nil && err != store.ErrNoDocuments {
		return err
	}
	if existing == nil {
		return l.modified.Set(ctx, id, newOp)
	}

	final, drop := coalesce(existing.Op, newOp)
	if drop {
		return l.modified.Drop(ctx, id)
	}
	return l.modified.Set(ctx, id, final)
}

// coalesce implements spec §4.5's precedence table for a prior tracker op
// meeting a newly observed op within one inter-register interval.
func coalesce(prior, next store.Op) (final store.Op, drop bool) {
	switch {
	case prior == store.OpInsert && next == store.OpDelete:
		return "", true
	case prior == store.OpInsert && next == store.OpUpdate:
		return store.OpInsert, false
	case prior == store.OpUpdate && next == store.OpUpdate:
		return store.OpUpdate, false
	case prior == store.OpUpdate && next == store.OpDelete:
		return store.OpDelete, false
	case prior == store.OpDelete && next == store.OpInsert:
		return store.OpUpdate, false
	default:
		return next, false
	}
}

func documentIDString(v any) (string, error) {
	switch id := v.(type) {
	case string:
		return id, nil
	case fmt.Stringer:
		return id.String(), nil
	default:
		return fmt.Sprintf("%v", id), nil
	}
}

// isResumeTokenExpired reports whether err is MongoDB's
// ChangeStreamHistoryLost (code 280), raised when the oplog has rolled past
// the listener's persisted resume token.
func isResumeTokenExpired(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 280
	}
	return false
}

// resync performs the full collection resync fallback used when MongoDB
// reports the resume point has expired (oplog rollover): it marks every
// document in C as updated and every replica document missing from C as
// deleted, and sets the changed flag, leaving replica untouched, so the
// next register diffs the true current state against replica rather than
// silently missing events. Not named in spec.md but required of a production implementation
// per SPEC_FULL §4.5.
func (l *Listener) resync(ctx context.Context) {
	cur, err := l.collection.Find(ctx, bson.M{})
	if err != nil {
		l.setState(StateStalled, err)
		return
	}
	defer cur.Close(ctx)

	seen := map[string]bool{}
	for cur.Next(ctx) {
		var d bson.M
		if err := cur.Decode(&d); err != nil {
			l.setState(StateStalled, err)
			return
		}
		id, err := documentIDString(d["_id"])
		if err != nil {
			continue
		}
		seen[id] = true
		_ = l.modified.Set(ctx, id, store.OpUpdate)
	}
	if prior, err := l.replica.All(ctx); err == nil {
		for _, d := range prior {
			if id, err := documentIDString(d["_id"]); err == nil && !seen[id] {
				_ = l.modified.Set(ctx, id, store.OpDelete)
			}
		}
	}
	_ = l.metadata.Update(ctx, bson.M{"changed": true})
	l.setState(StateRunning, nil)
}
