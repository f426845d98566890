// Package logtree maintains the in-memory tree of registered versions
// described by spec §4.3: an arena of nodes keyed by (n, branch), with
// precomputed levels, LCA, and path computation. Grounded on spec §9's
// design note ("tree with arbitrary fan-out maps to an arena: id -> node
// plus child-id lists") and built the way nodestorage/v2/cache/memory.go
// builds its own in-memory indexed store (mutex-guarded map, lazy reload).
package logtree

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"nodestorage/vcs/store"
)

// Node is one entry in the log tree.
type Node struct {
	ID        string
	Version   store.Version
	Timestamp int64
	Message   string
	ParentID  *string
	ChildIDs  []string
	Level     int
}

// Tree is the in-memory, mutex-guarded log tree. New returns it empty; it
// is loaded from the `log` store by Reload.
type Tree struct {
	mu       sync.RWMutex
	byID     map[string]*Node
	byVersion map[store.Version]string
	rootID   string
	logs     *store.LogStore
}

func New(logs *store.LogStore) *Tree {
	return &Tree{
		byID:      map[string]*Node{},
		byVersion: map[store.Version]string{},
		logs:      logs,
	}
}

// Reload re-reads the `log` store by timestamp-ascending order and rebuilds
// the arena plus level index in one pass: O(n log n) for the sibling sort,
// O(n) for level assignment via a BFS from the root. On epoch mismatch the
// lock manager only drops the cached tree; the vcs engine builds and
// reloads a fresh one on its next use.
func (t *Tree) Reload(ctx context.Context) error {
	entries, err := t.logs.All(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp < entries[j].Timestamp
		}
		return entries[i].Branch < entries[j].Branch
	})

	byID := map[string]*Node{}
	byVersion := map[store.Version]string{}
	var rootID string

	for _, e := range entries {
		n := &Node{
			ID:        e.ID,
			Version:   e.Version(),
			Timestamp: e.Timestamp,
			Message:   e.Message,
			ParentID:  e.PrevID,
			ChildIDs:  append([]string(nil), e.NextIDs...),
		}
		byID[e.ID] = n
		byVersion[n.Version] = e.ID
		if e.PrevID == nil {
			rootID = e.ID
		}
	}
	if rootID == "" && len(entries) > 0 {
		return fmt.Errorf("logtree: no root entry found among %d log entries", len(entries))
	}

	if rootID != "" {
		byID[rootID].Level = 0
		queue := []string{rootID}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			node := byID[id]
			sort.SliceStable(node.ChildIDs, func(i, j int) bool {
				a, b := byID[node.ChildIDs[i]], byID[node.ChildIDs[j]]
				if a.Timestamp != b.Timestamp {
					return a.Timestamp < b.Timestamp
				}
				return a.Version.Branch < b.Version.Branch
			})
			for _, cid := range node.ChildIDs {
				child, ok := byID[cid]
				if !ok {
					continue
				}
				child.Level = node.Level + 1
				queue = append(queue, cid)
			}
		}
	}

	t.mu.Lock()
	t.byID = byID
	t.byVersion = byVersion
	t.rootID = rootID
	t.mu.Unlock()
	return nil
}

// Root returns the tree's single root node.
func (t *Tree) Root() (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rootID == "" {
		return nil, false
	}
	return t.byID[t.rootID], true
}

// NodeByVersion looks up a node by (n, branch).
func (t *Tree) NodeByVersion(v store.Version) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byVersion[v]
	if !ok {
		return nil, false
	}
	return t.byID[id], true
}

// NodeByID looks up a node by its log entry id.
func (t *Tree) NodeByID(id string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.byID[id]
	return n, ok
}

// Parent returns v's parent version, if any.
func (t *Tree) Parent(v store.Version) (store.Version, bool) {
	n, ok := t.NodeByVersion(v)
	if !ok || n.ParentID == nil {
		return store.Version{}, false
	}
	p, ok := t.NodeByID(*n.ParentID)
	if !ok {
		return store.Version{}, false
	}
	return p.Version, true
}

// Children returns v's child versions, in their stored (timestamp,
// branch) order.
func (t *Tree) Children(v store.Version) []store.Version {
	n, ok := t.NodeByVersion(v)
	if !ok {
		return nil
	}
	out := make([]store.Version, 0, len(n.ChildIDs))
	for _, cid := range n.ChildIDs {
		if c, ok := t.NodeByID(cid); ok {
			out = append(out, c.Version)
		}
	}
	return out
}

// AddChild inserts an in-memory edge without a full Reload, for a register
// call that just wrote the corresponding log entry. The caller is
// responsible for having already persisted the entry.
func (t *Tree) AddChild(parentID string, child *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	child.ParentID = &parentID
	if parent, ok := t.byID[parentID]; ok {
		child.Level = parent.Level + 1
		parent.ChildIDs = append(parent.ChildIDs, child.ID)
	}
	t.byID[child.ID] = child
	t.byVersion[child.Version] = child.ID
}
