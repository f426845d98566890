package lock

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"nodestorage/vcs/deltatree"
	"nodestorage/vcs/logtree"
	"nodestorage/vcs/store"
)

// deltaTreeKey identifies one cached partial delta tree reconstruction.
type deltaTreeKey struct {
	DocumentID string
	FromN      int64
	FromBranch string
	ToN        int64
	ToBranch   string
}

// CacheManager holds the in-process caches whose coherence is gated by the
// lock record's epoch: the log tree (one pointer, since it's shared across
// the whole collection) and per-document partial delta trees (an LRU, since
// they're keyed by document and unbounded in count). Grounded on
// nodestorage/v2/cache/memory.go's map+mutex+TTL cache, upgraded to a real
// LRU since delta trees are per-document rather than a small fixed set.
type CacheManager struct {
	mu       sync.Mutex
	logTree  *logtree.Tree
	partials *lru.Cache[deltaTreeKey, *deltatree.Partial]
}

// NewCacheManager builds a CacheManager whose delta-tree LRU holds at most
// capacity entries.
func NewCacheManager(capacity int) *CacheManager {
	c, _ := lru.New[deltaTreeKey, *deltatree.Partial](capacity)
	return &CacheManager{partials: c}
}

// LogTree returns the cached log tree, or nil if not yet loaded.
func (c *CacheManager) LogTree() *logtree.Tree {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logTree
}

// SetLogTree installs the freshly (re)loaded log tree.
func (c *CacheManager) SetLogTree(t *logtree.Tree) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logTree = t
}

// Partial returns the cached partial delta tree for the given document and
// version range, if present.
func (c *CacheManager) Partial(documentID string, from, to store.Version) (*deltatree.Partial, bool) {
	key := deltaTreeKey{
		DocumentID: documentID,
		FromN:      from.N, FromBranch: from.Branch,
		ToN: to.N, ToBranch: to.Branch,
	}
	return c.partials.Get(key)
}

// PutPartial caches a partial delta tree reconstruction.
func (c *CacheManager) PutPartial(documentID string, from, to store.Version, p *deltatree.Partial) {
	key := deltaTreeKey{
		DocumentID: documentID,
		FromN:      from.N, FromBranch: from.Branch,
		ToN: to.N, ToBranch: to.Branch,
	}
	c.partials.Add(key, p)
}

// InvalidateAll drops both caches entirely (not just marks them stale) on
// epoch mismatch, matching spec §4.6: "invalidate cached log tree and delta
// trees; they will be lazily reloaded."
func (c *CacheManager) InvalidateAll() {
	c.mu.Lock()
	c.logTree = nil
	c.mu.Unlock()
	c.partials.Purge()
}
