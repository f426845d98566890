package vcs

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"nodestorage/vcs/delta"
	"nodestorage/vcs/internal/vlog"
	"nodestorage/vcs/listener"
	"nodestorage/vcs/lock"
	"nodestorage/vcs/logtree"
	"nodestorage/vcs/store"
)

// Engine is one versioning engine instance, bound to one target collection.
// Public operations are declared on this type and implemented against the
// collaborators it holds, in the interface-first shape of
// nodestorage/v2/storage.go's Storage[T] (public surface on the type,
// collaborators held privately).
type Engine struct {
	cfg   Config
	names store.Names

	target    *mongo.Collection
	branches  *store.BranchStore
	deltas    *store.DeltaStore
	logs      *store.LogStore
	metadata  *store.MetadataStore
	modified  *store.ModifiedStore
	replica   *store.ReplicaStore
	stash     *store.StashStore
	conflicts *store.ConflictStore
	locks     *store.LockStore

	lockMgr  *lock.Manager
	cache    *lock.CacheManager
	listen   *listener.Listener
	txn      *store.Transactional
	ids      *snowflake.Node
}

// Open wires an Engine against an already-initialized or uninitialized
// target collection. Call Init on the returned Engine if it reports
// ErrNotInitialized from an operation that requires it.
func Open(cfg Config) (*Engine, error) {
	if cfg.Database == nil || cfg.Target == "" {
		return nil, fmt.Errorf("vcs: Config.Database and Config.Target are required")
	}
	names := store.NamesFor(cfg.Target)

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("vcs: create id generator: %w", err)
	}

	target := cfg.Database.Collection(cfg.Target)
	branches := store.NewBranchStore(store.NewMongoBackend(cfg.Database.Collection(names.Branches)))
	deltas := store.NewDeltaStore(store.NewMongoBackend(cfg.Database.Collection(names.Deltas)))
	logs := store.NewLogStore(store.NewMongoBackend(cfg.Database.Collection(names.Log)))
	metadata := store.NewMetadataStore(store.NewMongoBackend(cfg.Database.Collection(names.Metadata)))
	modified := store.NewModifiedStore(store.NewMongoBackend(cfg.Database.Collection(names.Modified)))
	replica := store.NewReplicaStore(store.NewMongoBackend(cfg.Database.Collection(names.Replica)))
	stash := store.NewStashStore(
		store.NewMongoBackend(cfg.Database.Collection(names.Stash)),
		store.NewMongoBackend(cfg.Database.Collection(names.StashModified)),
	)
	conflicts := store.NewConflictStore(store.NewMongoBackend(cfg.Database.Collection(names.Conflicts)))
	locks := store.NewLockStore(store.NewMongoBackend(cfg.Database.Collection(store.LockCollectionName)))

	cache := lock.NewCacheManager(cfg.CacheCapacity)
	lockMgr := lock.New(locks, cfg.Target, cfg.HolderID, cache, cfg.LockOptions)
	listen := listener.New(target, modified, metadata, replica)
	txn := store.NewTransactional(cfg.Database.Client(), cfg.TransactionOptions)

	return &Engine{
		cfg: cfg, names: names,
		target: target, branches: branches, deltas: deltas, logs: logs,
		metadata: metadata, modified: modified, replica: replica,
		stash: stash, conflicts: conflicts, locks: locks,
		lockMgr: lockMgr, cache: cache, listen: listen, txn: txn, ids: node,
	}, nil
}

func (e *Engine) nextID() string {
	return e.ids.Generate().String()
}

// Init creates all auxiliary stores, the root log entry (0, "main") with
// the given message, snapshots C into replica, sets metadata, and starts
// the listener. Idempotent when already initialized: reports and returns
// without modification.
func (e *Engine) Init(ctx context.Context, message string) error {
	if _, err := e.metadata.Get(ctx); err == nil {
		vlog.Info("vcs: collection already initialized")
		return nil // already initialized: no-op success per spec §4.7
	}

	if err := e.ensureIndexes(ctx); err != nil {
		return err
	}

	rootID := e.nextID()
	if err := e.logs.Insert(ctx, store.LogEntry{
		ID: rootID, N: 0, Branch: "main", Timestamp: nowUnixNano(), Message: message,
	}); err != nil {
		return fmt.Errorf("%w: insert root log entry: %v", ErrDatabaseError, err)
	}
	if err := e.branches.Create(ctx, store.BranchRecord{Name: "main", TipN: 0, TipBranch: "main"}); err != nil {
		return fmt.Errorf("%w: create main branch record: %v", ErrDatabaseError, err)
	}

	docs, err := e.fetchAllTarget(ctx)
	if err != nil {
		return err
	}
	if err := e.replica.Replace(ctx, docs); err != nil {
		return fmt.Errorf("%w: snapshot replica: %v", ErrDatabaseError, err)
	}

	if err := e.metadata.Init(ctx, store.Metadata{CurrentN: 0, CurrentBranch: "main"}); err != nil {
		return fmt.Errorf("%w: initialize metadata: %v", ErrDatabaseError, err)
	}

	if err := e.listen.Start(ctx); err != nil {
		vlog.Warn("vcs: failed to start change listener during init")
	}

	tree := logtree.New(e.logs)
	if err := tree.Reload(ctx); err != nil {
		return err
	}
	e.cache.SetLogTree(tree)

	return nil
}

func (e *Engine) ensureIndexes(ctx context.Context) error {
	if err := e.logs.EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := e.branches.EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := e.deltas.EnsureIndexes(ctx); err != nil {
		return err
	}
	return e.modified.EnsureIndexes(ctx)
}

func (e *Engine) fetchAllTarget(ctx context.Context) ([]bson.M, error) {
	cur, err := e.target.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []bson.M
	for cur.Next(ctx) {
		var d bson.M
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, cur.Err()
}

// logTree returns the cached log tree, reloading it if the cache was
// dropped (e.g. on an epoch mismatch detected at the last Acquire).
func (e *Engine) logTree(ctx context.Context) (*logtree.Tree, error) {
	if t := e.cache.LogTree(); t != nil {
		return t, nil
	}
	tree := logtree.New(e.logs)
	if err := tree.Reload(ctx); err != nil {
		return nil, err
	}
	e.cache.SetLogTree(tree)
	return tree, nil
}

// fence blocks the calling operation until the listener has drained events
// up to a fresh sentinel, per spec §4.5.
func (e *Engine) fence(ctx context.Context) error {
	if err := e.listen.Fence(ctx, e.cfg.FenceTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrListenerStalled, err)
	}
	return nil
}

func (e *Engine) withLock(ctx context.Context, mutates bool, fn func(ctx context.Context) error) error {
	if err := e.lockMgr.Acquire(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	err := fn(ctx)
	if relErr := e.lockMgr.Release(ctx, mutates && err == nil); relErr != nil {
		vlog.Warn("vcs: failed to release lock")
	}
	return err
}

func documentID(doc bson.M) string {
	return fmt.Sprintf("%v", doc["_id"])
}

func toDocument(m bson.M) delta.Document {
	d := delta.Document{}
	for k, v := range m {
		d[k] = v
	}
	return d
}

func fromDocument(d delta.Document) bson.M {
	m := bson.M{}
	for k, v := range d {
		m[k] = v
	}
	return m
}
