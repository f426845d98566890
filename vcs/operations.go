package vcs

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"nodestorage/vcs/delta"
	"nodestorage/vcs/deltatree"
	"nodestorage/vcs/logtree"
	"nodestorage/vcs/store"
)

// Register commits every pending change tracked in `modified` as a new
// version, per spec §4.7. branch, when non-nil, names the branch to
// register on explicitly (the branch-creating register that follows
// CreateBranch, where current_n == -1). Returns the newly registered
// version.
func (e *Engine) Register(ctx context.Context, message string, branch *string) (store.Version, error) {
	var result store.Version
	err := e.withLock(ctx, true, func(ctx context.Context) error {
		if err := e.fence(ctx); err != nil {
			return err
		}
		meta, err := e.metadata.Get(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}
		if meta.HasConflicts {
			return ErrUnresolvedConflicts
		}

		explicit := branch != nil
		if !meta.Changed && !explicit {
			result = meta.Current()
			return nil // nothing pending and no branch to create: no-op success
		}
		if meta.Detached && meta.Changed && !explicit {
			return ErrDetachedWithoutBranch
		}

		targetBranch := meta.CurrentBranch
		if explicit {
			targetBranch = *branch
		}
		branchRec, err := e.branches.Get(ctx, targetBranch)
		if err != nil {
			return fmt.Errorf("%w: unknown branch %q: %v", ErrUnknownBranch, targetBranch, err)
		}

		entries, err := e.modified.All(ctx)
		if err != nil {
			return fmt.Errorf("%w: list modified: %v", ErrDatabaseError, err)
		}

		tree, err := e.logTree(ctx)
		if err != nil {
			return err
		}

		newVersion := store.Version{N: branchRec.TipN + 1, Branch: targetBranch}
		parentVersion := branchRec.Tip()
		parentNode, hasParent := tree.NodeByVersion(parentVersion)
		var parentLogID *string
		if hasParent {
			id := parentNode.ID
			parentLogID = &id
		}

		logID := e.nextID()
		if err := e.logs.Insert(ctx, store.LogEntry{
			ID: logID, N: newVersion.N, Branch: newVersion.Branch,
			Timestamp: nowUnixNano(), Message: message, PrevID: parentLogID,
		}); err != nil {
			return fmt.Errorf("%w: insert log entry: %v", ErrDatabaseError, err)
		}
		if parentLogID != nil {
			if err := e.logs.AppendChild(ctx, *parentLogID, logID); err != nil {
				return fmt.Errorf("%w: link log entry: %v", ErrDatabaseError, err)
			}
		}

		for _, entry := range entries {
			if err := e.registerDocument(ctx, tree, parentVersion, newVersion, entry); err != nil {
				return err
			}
		}

		if err := e.branches.SetTip(ctx, targetBranch, newVersion); err != nil {
			return fmt.Errorf("%w: advance branch tip: %v", ErrDatabaseError, err)
		}
		if err := e.modified.Clear(ctx); err != nil {
			return fmt.Errorf("%w: clear modified: %v", ErrDatabaseError, err)
		}
		docs, err := e.fetchAllTarget(ctx)
		if err != nil {
			return err
		}
		if err := e.replica.Replace(ctx, docs); err != nil {
			return fmt.Errorf("%w: refresh replica: %v", ErrDatabaseError, err)
		}
		if err := e.metadata.Update(ctx, bson.M{
			"current_n": newVersion.N, "current_branch": newVersion.Branch,
			"detached": false, "changed": false,
		}); err != nil {
			return fmt.Errorf("%w: update metadata: %v", ErrDatabaseError, err)
		}

		child := &logtree.Node{ID: logID, Version: newVersion, Timestamp: nowUnixNano(), Message: message}
		if parentLogID != nil {
			tree.AddChild(*parentLogID, child)
		}

		result = newVersion
		return nil
	})
	return result, err
}

// registerDocument diffs one document's replica state against its current
// state in C, and if a change exists, writes a new delta record chained to
// the nearest ancestor delta for the same document on parentVersion's path
// to the root, per spec §3's D1 invariant.
func (e *Engine) registerDocument(ctx context.Context, tree *logtree.Tree, parentVersion, newVersion store.Version, entry store.ModifiedEntry) error {
	prior, err := e.replica.Get(ctx, entry.DocumentID)
	if err != nil {
		prior = nil
	}
	var current bson.M
	if entry.Op != store.OpDelete {
		if err := e.target.FindOne(ctx, bson.M{"_id": anyID(entry.DocumentID)}).Decode(&current); err != nil {
			current = nil
		}
	}

	from := delta.Document{}
	if prior != nil {
		from = toDocument(prior)
	}
	to := delta.Document{}
	if current != nil {
		to = toDocument(current)
	}

	d := delta.Diff(from, to)
	if d.IsIdentity() {
		return nil
	}

	prevID := e.findAncestorDelta(ctx, tree, parentVersion, entry.DocumentID)

	forward, err := delta.Marshal(d)
	if err != nil {
		return fmt.Errorf("%w: marshal delta: %v", ErrDatabaseError, err)
	}
	backward, err := delta.Marshal(d.Invert())
	if err != nil {
		return fmt.Errorf("%w: marshal inverse delta: %v", ErrDatabaseError, err)
	}

	id := e.nextID()
	if err := e.deltas.Insert(ctx, store.DeltaRecord{
		ID: id, DocumentID: entry.DocumentID, VersionN: newVersion.N, Branch: newVersion.Branch,
		Timestamp: nowUnixNano(), Forward: forward, Backward: backward, PrevID: prevID,
	}); err != nil {
		return fmt.Errorf("%w: insert delta record: %v", ErrDatabaseError, err)
	}
	if prevID != nil {
		if err := e.deltas.AppendChild(ctx, *prevID, id); err != nil {
			return fmt.Errorf("%w: link delta record: %v", ErrDatabaseError, err)
		}
	}
	return nil
}

// findAncestorDelta walks from parentVersion up to the root looking for the
// most recent delta recorded for documentID, implementing the "search up
// the path for the most recent delta for that document" step of register.
func (e *Engine) findAncestorDelta(ctx context.Context, tree *logtree.Tree, parentVersion store.Version, documentID string) *string {
	candidates := append([]store.Version{parentVersion}, tree.Pred(parentVersion)...)
	for _, v := range candidates {
		records, err := e.deltas.ForVersion(ctx, v)
		if err != nil {
			continue
		}
		for _, r := range records {
			if r.DocumentID == documentID {
				id := r.ID
				return &id
			}
		}
	}
	return nil
}

func anyID(s string) any { return s }

// Checkout moves C to the target version, per spec §4.7. Exactly one of n
// or branch may be nil: nil n with a branch means that branch's tip; a
// given n with nil branch means (n, current branch).
func (e *Engine) Checkout(ctx context.Context, n *int64, branch *string) (store.Version, error) {
	var result store.Version
	err := e.withLock(ctx, true, func(ctx context.Context) error {
		if err := e.fence(ctx); err != nil {
			return err
		}
		meta, err := e.metadata.Get(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}
		if meta.Changed {
			return ErrUncommittedChanges
		}

		target, err := e.resolveTarget(ctx, meta, n, branch)
		if err != nil {
			return err
		}

		tree, err := e.logTree(ctx)
		if err != nil {
			return err
		}
		if _, ok := tree.NodeByVersion(target); !ok {
			return fmt.Errorf("%w: %s", ErrInvalidVersion, target)
		}

		path, err := tree.Path(meta.Current(), target)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidVersion, err)
		}

		docIDs, err := e.documentsTouchedBy(ctx, path)
		if err != nil {
			return err
		}
		for _, docID := range docIDs {
			if err := e.checkoutDocument(ctx, tree, path, docID); err != nil {
				return err
			}
		}

		docs, err := e.fetchAllTarget(ctx)
		if err != nil {
			return err
		}
		if err := e.replica.Replace(ctx, docs); err != nil {
			return fmt.Errorf("%w: refresh replica: %v", ErrDatabaseError, err)
		}

		branchRec, err := e.branches.Get(ctx, target.Branch)
		detached := err != nil || branchRec.Tip() != target
		if err := e.metadata.Update(ctx, bson.M{
			"current_n": target.N, "current_branch": target.Branch, "detached": detached,
		}); err != nil {
			return fmt.Errorf("%w: update metadata: %v", ErrDatabaseError, err)
		}

		result = target
		return nil
	})
	return result, err
}

func (e *Engine) resolveTarget(ctx context.Context, meta *store.Metadata, n *int64, branch *string) (store.Version, error) {
	if n == nil && branch != nil {
		rec, err := e.branches.Get(ctx, *branch)
		if err != nil {
			return store.Version{}, fmt.Errorf("%w: %q: %v", ErrUnknownBranch, *branch, err)
		}
		return rec.Tip(), nil
	}
	targetBranch := meta.CurrentBranch
	if branch != nil {
		targetBranch = *branch
	}
	if n == nil {
		return store.Version{}, fmt.Errorf("%w: checkout requires n or branch", ErrInvalidVersion)
	}
	return store.Version{N: *n, Branch: targetBranch}, nil
}

// documentsTouchedBy collects the distinct document ids with a delta record
// at any version on path.
func (e *Engine) documentsTouchedBy(ctx context.Context, path []logtree.Step) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	for _, step := range path {
		records, err := e.deltas.ForVersion(ctx, step.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		for _, r := range records {
			if _, ok := seen[r.DocumentID]; !ok {
				seen[r.DocumentID] = struct{}{}
				out = append(out, r.DocumentID)
			}
		}
	}
	return out, nil
}

// checkoutDocument composes the path's deltas for one document (§4.4) and
// writes the resulting state to C: insert/update/delete as dictated by the
// composed delta's effect on a present/absent document.
func (e *Engine) checkoutDocument(ctx context.Context, tree *logtree.Tree, path []logtree.Step, documentID string) error {
	partial, err := deltatree.Build(ctx, e.deltas, documentID)
	if err != nil {
		return err
	}
	composed, ok := partial.Composed(tree, path)
	if !ok {
		return nil
	}

	var before bson.M
	hadBefore := e.target.FindOne(ctx, bson.M{"_id": anyID(documentID)}).Decode(&before) == nil

	var fromDoc delta.Document
	if hadBefore {
		fromDoc = toDocument(before)
	} else {
		fromDoc = delta.Document{}
	}

	after, err := composed.Apply(fromDoc)
	if err != nil {
		return fmt.Errorf("%w: apply composed delta for %s: %v", ErrDatabaseError, documentID, err)
	}

	becomesEmpty := len(after) == 0
	switch {
	case hadBefore && becomesEmpty:
		_, err = e.target.DeleteOne(ctx, bson.M{"_id": anyID(documentID)})
	case hadBefore && !becomesEmpty:
		_, err = e.target.ReplaceOne(ctx, bson.M{"_id": anyID(documentID)}, fromDocument(after))
	case !hadBefore && !becomesEmpty:
		doc := fromDocument(after)
		doc["_id"] = documentID
		_, err = e.target.InsertOne(ctx, doc)
	}
	if err != nil {
		return fmt.Errorf("%w: write checked-out state for %s: %v", ErrDatabaseError, documentID, err)
	}
	return nil
}

// CreateBranch writes a new branch record forked at the current version
// and moves metadata into the "branch created, nothing registered yet"
// state (current_n = -1), per spec §4.7.
func (e *Engine) CreateBranch(ctx context.Context, name string) error {
	return e.withLock(ctx, true, func(ctx context.Context) error {
		meta, err := e.metadata.Get(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}
		if _, err := e.branches.Get(ctx, name); err == nil {
			return fmt.Errorf("%w: %q", ErrBranchExists, name)
		}
		if err := e.branches.Create(ctx, store.BranchRecord{
			Name: name, TipN: meta.CurrentN, TipBranch: meta.CurrentBranch,
		}); err != nil {
			return fmt.Errorf("%w: create branch record: %v", ErrDatabaseError, err)
		}
		return e.metadata.Update(ctx, bson.M{
			"current_n": int64(-1), "current_branch": name, "detached": false,
		})
	})
}

// DeleteVersionSubtree removes every log entry, delta, and branch record
// in succ((n, branch)) union {(n, branch)}. The removals are separate
// writes, not wrapped in a transaction. If the current
// version sits inside the removed set, it checks out the parent first. The
// root version cannot be deleted.
func (e *Engine) DeleteVersionSubtree(ctx context.Context, n int64, branch string) error {
	target := store.Version{N: n, Branch: branch}
	if target == store.Root {
		return fmt.Errorf("%w: cannot delete the root version", ErrInvalidVersion)
	}

	return e.withLock(ctx, true, func(ctx context.Context) error {
		meta, err := e.metadata.Get(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}

		tree, err := e.logTree(ctx)
		if err != nil {
			return err
		}
		node, ok := tree.NodeByVersion(target)
		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidVersion, target)
		}

		removed := append([]store.Version{target}, tree.Succ(target)...)
		removedSet := map[store.Version]bool{}
		for _, v := range removed {
			removedSet[v] = true
		}

		if removedSet[meta.Current()] {
			if node.ParentID == nil {
				return fmt.Errorf("%w: cannot delete the root version", ErrInvalidVersion)
			}
			parent, ok := tree.NodeByID(*node.ParentID)
			if !ok {
				return fmt.Errorf("%w: parent version not found", ErrDatabaseError)
			}
			parentN, parentBranch := parent.Version.N, parent.Version.Branch
			if _, err := e.checkoutLocked(ctx, tree, meta, &parentN, &parentBranch); err != nil {
				return err
			}
		}

		if _, err := e.logs.DeleteSubtree(ctx, collectLogIDs(tree, removed)); err != nil {
			return fmt.Errorf("%w: delete log entries: %v", ErrDatabaseError, err)
		}
		if _, err := e.deltas.DeleteForVersions(ctx, removed); err != nil {
			return fmt.Errorf("%w: delete deltas: %v", ErrDatabaseError, err)
		}

		branchesToDrop := map[string]bool{}
		for _, v := range removed {
			branchesToDrop[v.Branch] = true
		}
		for b := range branchesToDrop {
			if rec, err := e.branches.Get(ctx, b); err == nil && removedSet[rec.Tip()] {
				_ = e.branches.Delete(ctx, b)
			}
		}

		tree2 := logtree.New(e.logs)
		if err := tree2.Reload(ctx); err != nil {
			return err
		}
		e.cache.SetLogTree(tree2)
		return nil
	})
}

func collectLogIDs(tree *logtree.Tree, versions []store.Version) []string {
	var ids []string
	for _, v := range versions {
		if n, ok := tree.NodeByVersion(v); ok {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// checkoutLocked is Checkout's body, reusable by operations that already
// hold the lock (delete_version_subtree's implicit checkout of the
// current version's parent).
func (e *Engine) checkoutLocked(ctx context.Context, tree *logtree.Tree, meta *store.Metadata, n *int64, branch *string) (store.Version, error) {
	target, err := e.resolveTarget(ctx, meta, n, branch)
	if err != nil {
		return store.Version{}, err
	}
	path, err := tree.Path(meta.Current(), target)
	if err != nil {
		return store.Version{}, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	docIDs, err := e.documentsTouchedBy(ctx, path)
	if err != nil {
		return store.Version{}, err
	}
	for _, docID := range docIDs {
		if err := e.checkoutDocument(ctx, tree, path, docID); err != nil {
			return store.Version{}, err
		}
	}
	docs, err := e.fetchAllTarget(ctx)
	if err != nil {
		return store.Version{}, err
	}
	if err := e.replica.Replace(ctx, docs); err != nil {
		return store.Version{}, fmt.Errorf("%w: refresh replica: %v", ErrDatabaseError, err)
	}
	branchRec, berr := e.branches.Get(ctx, target.Branch)
	detached := berr != nil || branchRec.Tip() != target
	if err := e.metadata.Update(ctx, bson.M{
		"current_n": target.N, "current_branch": target.Branch, "detached": detached,
	}); err != nil {
		return store.Version{}, fmt.Errorf("%w: update metadata: %v", ErrDatabaseError, err)
	}
	return target, nil
}

// Diff computes per-document forward deltas either between the registered
// state at (current_n, current_branch) and the working state of C
// (other == nil), or between the registered state at other and the
// registered state at the current version.
func (e *Engine) Diff(ctx context.Context, other *store.Version) (map[string]*delta.Delta, error) {
	meta, err := e.metadata.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}

	if other == nil {
		replicaDocs, err := e.replica.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		currentDocs, err := e.fetchAllTarget(ctx)
		if err != nil {
			return nil, err
		}
		return diffDocumentSets(replicaDocs, currentDocs), nil
	}

	tree, err := e.logTree(ctx)
	if err != nil {
		return nil, err
	}
	path, err := tree.Path(*other, meta.Current())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	docIDs, err := e.documentsTouchedBy(ctx, path)
	if err != nil {
		return nil, err
	}
	out := map[string]*delta.Delta{}
	for _, docID := range docIDs {
		partial, err := deltatree.Build(ctx, e.deltas, docID)
		if err != nil {
			return nil, err
		}
		if composed, ok := partial.Composed(tree, path); ok && !composed.IsIdentity() {
			out[docID] = composed
		}
	}
	return out, nil
}

func diffDocumentSets(from, to []bson.M) map[string]*delta.Delta {
	fromByID := map[string]bson.M{}
	for _, d := range from {
		fromByID[documentID(d)] = d
	}
	toByID := map[string]bson.M{}
	for _, d := range to {
		toByID[documentID(d)] = d
	}
	out := map[string]*delta.Delta{}
	ids := map[string]struct{}{}
	for id := range fromByID {
		ids[id] = struct{}{}
	}
	for id := range toByID {
		ids[id] = struct{}{}
	}
	for id := range ids {
		d := delta.Diff(toDocument(fromByID[id]), toDocument(toByID[id]))
		if !d.IsIdentity() {
			out[id] = d
		}
	}
	return out
}

// Status returns the current, read-only engine status, per SPEC_FULL
// §4.7's supplemental status() operation.
type Status struct {
	Current      store.Version
	Detached     bool
	Changed      bool
	HasStash     bool
	HasConflicts bool
	ModifiedCount int64
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	if err := e.fence(ctx); err != nil {
		return Status{}, err
	}
	meta, err := e.metadata.Get(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	count, err := e.modified.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return Status{
		Current: meta.Current(), Detached: meta.Detached, Changed: meta.Changed,
		HasStash: meta.HasStash, HasConflicts: meta.HasConflicts, ModifiedCount: count,
	}, nil
}

// Log returns every registered log entry, per SPEC_FULL §4.7's
// supplemental log() operation. No lock is taken: a stale read is
// tolerated per spec §5.
func (e *Engine) Log(ctx context.Context) ([]store.LogEntry, error) {
	return e.logs.All(ctx)
}

// Branches returns every branch record.
func (e *Engine) Branches(ctx context.Context) ([]store.BranchRecord, error) {
	return e.branches.All(ctx)
}
