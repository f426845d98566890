package vcs

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"nodestorage/vcs/delta"
	"nodestorage/vcs/deltatree"
	"nodestorage/vcs/logtree"
	"nodestorage/vcs/store"
	"nodestorage/vcs/sync"
)

// AsEndpoint exposes this Engine's stores as a sync.Endpoint, for push/pull
// against another Engine in the same process or across a real deployment.
// host distinguishes two engines pointed at the same database name on
// different servers for lock-ordering purposes; embedders with a single
// mongod can pass "".
func (e *Engine) AsEndpoint(host string) sync.Endpoint {
	return sync.Endpoint{
		Host: host, Database: e.cfg.Database.Name(), Name: e.cfg.Target,
		Target: e.target, Logs: e.logs, Deltas: e.deltas, Branches: e.branches,
		Metadata: e.metadata, Replica: e.replica, Lock: e.lockMgr,
	}
}

func branchOrCurrent(meta *store.Metadata, branch *string) string {
	if branch != nil {
		return *branch
	}
	return meta.CurrentBranch
}

// Push replicates every local log entry (and the deltas/branch record it
// carries) reachable from branch's tip that the remote is missing, per
// spec §4.8. The remote's branch tip must be an ancestor of the local tip
// (fast-forward only); otherwise it fails with ErrNonFastForward and the
// caller must Pull first.
func (e *Engine) Push(ctx context.Context, remote sync.Endpoint, branch *string) error {
	meta, err := e.metadata.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	if meta.HasConflicts {
		return ErrUnresolvedConflicts
	}
	if meta.Changed {
		return ErrUncommittedChanges
	}
	targetBranch := branchOrCurrent(meta, branch)

	release, err := sync.AcquireBoth(ctx, e.AsEndpoint(""), remote)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	defer release(ctx, false, true)

	localEntries, err := e.logs.All(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	remoteEntries, err := remote.Logs.All(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	fork, ok := sync.ForkPoint(localEntries, remoteEntries, targetBranch)
	if !ok {
		fork = store.Root
	}

	if remoteBranchRec, err := remote.Branches.Get(ctx, targetBranch); err == nil {
		if remoteBranchRec.Tip() != fork {
			return fmt.Errorf("%w: remote branch %q has commits absent locally", ErrNonFastForward, targetBranch)
		}
	}

	localBranchRec, err := e.branches.Get(ctx, targetBranch)
	if err != nil {
		return fmt.Errorf("%w: unknown branch %q: %v", ErrUnknownBranch, targetBranch, err)
	}
	localTip := localBranchRec.Tip()

	chain := remapChainPrevID(logChainBetween(localEntries, localTip, fork), fork, remoteEntries)
	for _, entry := range chain {
		if err := remote.Logs.Insert(ctx, entry); err != nil {
			return fmt.Errorf("%w: replicate log entry: %v", ErrDatabaseError, err)
		}
		if entry.PrevID != nil {
			if err := remote.Logs.AppendChild(ctx, *entry.PrevID, entry.ID); err != nil {
				return fmt.Errorf("%w: link replicated log entry: %v", ErrDatabaseError, err)
			}
		}
		records, err := e.deltas.ForVersion(ctx, entry.Version())
		if err != nil {
			return fmt.Errorf("%w: read deltas for %s: %v", ErrDatabaseError, entry.Version(), err)
		}
		for _, d := range records {
			if err := remote.Deltas.Insert(ctx, d); err != nil {
				return fmt.Errorf("%w: replicate delta record: %v", ErrDatabaseError, err)
			}
			if d.PrevID != nil {
				if err := remote.Deltas.AppendChild(ctx, *d.PrevID, d.ID); err != nil {
					return fmt.Errorf("%w: link replicated delta record: %v", ErrDatabaseError, err)
				}
			}
		}
	}

	if _, err := remote.Branches.Get(ctx, targetBranch); err != nil {
		if err := remote.Branches.Create(ctx, store.BranchRecord{Name: targetBranch, TipN: localTip.N, TipBranch: localTip.Branch}); err != nil {
			return fmt.Errorf("%w: create remote branch record: %v", ErrDatabaseError, err)
		}
	} else if err := remote.Branches.SetTip(ctx, targetBranch, localTip); err != nil {
		return fmt.Errorf("%w: advance remote branch tip: %v", ErrDatabaseError, err)
	}

	docs, err := e.fetchAllTarget(ctx)
	if err != nil {
		return err
	}
	if err := remote.Replica.Replace(ctx, docs); err != nil {
		return fmt.Errorf("%w: refresh remote replica: %v", ErrDatabaseError, err)
	}
	if remote.Target != nil {
		if _, err := remote.Target.DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("%w: clear remote target: %v", ErrDatabaseError, err)
		}
		for _, d := range docs {
			if _, err := remote.Target.InsertOne(ctx, d); err != nil {
				return fmt.Errorf("%w: write remote target: %v", ErrDatabaseError, err)
			}
		}
	}

	return nil
}

// logChainBetween returns entries strictly after fork (exclusive) up to
// tip (inclusive), walking prev_id backward from tip, reversed into
// replication (ascending) order.
func logChainBetween(entries []store.LogEntry, tip, fork store.Version) []store.LogEntry {
	byID := map[string]store.LogEntry{}
	byVersion := map[store.Version]store.LogEntry{}
	for _, e := range entries {
		byID[e.ID] = e
		byVersion[e.Version()] = e
	}
	tipEntry, ok := byVersion[tip]
	if !ok {
		return nil
	}
	var chain []store.LogEntry
	cur := tipEntry
	for cur.Version() != fork {
		chain = append(chain, cur)
		if cur.PrevID == nil {
			break
		}
		parent, ok := byID[*cur.PrevID]
		if !ok {
			break
		}
		cur = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// remapChainPrevID points chain's first entry at destEntries' own id for
// fork instead of the source side's id for that same version: two engines
// initialized independently each mint their own id for the shared root
// (and any other version both happen to already hold), so a verbatim copy
// of prev_id would dangle. Every later entry in chain already chains onto
// the previous entry's id, which is preserved identically on both sides,
// so only the first link needs remapping.
func remapChainPrevID(chain []store.LogEntry, fork store.Version, destEntries []store.LogEntry) []store.LogEntry {
	if len(chain) == 0 {
		return chain
	}
	for _, e := range destEntries {
		if e.Version() == fork {
			id := e.ID
			chain[0].PrevID = &id
			return chain
		}
	}
	chain[0].PrevID = nil
	return chain
}

// Pull fetches the remote log entries and deltas the local side is
// missing, per spec §4.8. If the local branch tip is the fork point (no
// local divergence), it fast-forwards and checks out the new tip.
// Otherwise it replays the remote's commits onto a synthetic
// "__rebranched_<branch>_<k>" branch and attempts a three-way auto-merge
// against the local branch, using the fork point as the common base. A
// non-empty ConflictError means resolve_conflicts must run before the next
// register.
func (e *Engine) Pull(ctx context.Context, remote sync.Endpoint, branch *string) error {
	var conflicted []string
	err := e.withLock(ctx, true, func(ctx context.Context) error {
		if err := e.fence(ctx); err != nil {
			return err
		}
		meta, err := e.metadata.Get(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}
		targetBranch := branchOrCurrent(meta, branch)

		remoteEntries, err := remote.Logs.All(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		localEntries, err := e.logs.All(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}

		fork, ok := sync.ForkPoint(remoteEntries, localEntries, targetBranch)
		if !ok {
			fork = store.Root
		}

		remoteBranchRec, err := remote.Branches.Get(ctx, targetBranch)
		if err != nil {
			return fmt.Errorf("%w: remote has no branch %q: %v", ErrUnknownBranch, targetBranch, err)
		}
		remoteTip := remoteBranchRec.Tip()
		missing := remapChainPrevID(logChainBetween(remoteEntries, remoteTip, fork), fork, localEntries)

		localBranchRec, localBranchErr := e.branches.Get(ctx, targetBranch)
		localIsAtFork := localBranchErr == nil && localBranchRec.Tip() == fork

		if localIsAtFork || localBranchErr != nil {
			for _, entry := range missing {
				if err := e.replicateEntryLocally(ctx, remote, entry); err != nil {
					return err
				}
			}
			if localBranchErr != nil {
				if err := e.branches.Create(ctx, store.BranchRecord{Name: targetBranch, TipN: remoteTip.N, TipBranch: remoteTip.Branch}); err != nil {
					return fmt.Errorf("%w: create local branch record: %v", ErrDatabaseError, err)
				}
			} else if err := e.branches.SetTip(ctx, targetBranch, remoteTip); err != nil {
				return fmt.Errorf("%w: advance local branch tip: %v", ErrDatabaseError, err)
			}

			tree := logtree.New(e.logs)
			if err := tree.Reload(ctx); err != nil {
				return fmt.Errorf("%w: %v", ErrDatabaseError, err)
			}
			e.cache.SetLogTree(tree)

			n, b := remoteTip.N, remoteTip.Branch
			if _, err := e.checkoutLocked(ctx, tree, meta, &n, &b); err != nil {
				return err
			}
			return nil
		}

		// Divergent: replay the remote's missing commits onto a synthetic
		// branch forked at fork, then three-way merge against the local tip.
		syntheticBranch := fmt.Sprintf("__rebranched_%s_%s", targetBranch, e.nextID())
		if err := e.branches.Create(ctx, store.BranchRecord{Name: syntheticBranch, TipN: fork.N, TipBranch: fork.Branch}); err != nil {
			return fmt.Errorf("%w: create synthetic branch: %v", ErrDatabaseError, err)
		}

		syntheticTip := fork
		prevLogID, _ := logIDAtVersion(localEntries, fork)
		for i, entry := range missing {
			renamed := entry
			renamed.Branch = syntheticBranch
			renamed.N = fork.N + int64(i) + 1
			renamed.PrevID = prevLogID
			renamed.NextIDs = nil
			if err := e.logs.Insert(ctx, renamed); err != nil {
				return fmt.Errorf("%w: insert synthetic log entry: %v", ErrDatabaseError, err)
			}
			if prevLogID != nil {
				_ = e.logs.AppendChild(ctx, *prevLogID, renamed.ID)
			}
			id := renamed.ID
			prevLogID = &id

			remoteDeltas, derr := remote.Deltas.ForVersion(ctx, entry.Version())
			if derr != nil {
				return fmt.Errorf("%w: %v", ErrDatabaseError, derr)
			}
			for _, d := range remoteDeltas {
				d.VersionN, d.Branch = renamed.N, renamed.Branch
				if err := e.deltas.Insert(ctx, d); err != nil {
					return fmt.Errorf("%w: insert synthetic delta: %v", ErrDatabaseError, err)
				}
			}
			syntheticTip = renamed.Version()
		}
		if err := e.branches.SetTip(ctx, syntheticBranch, syntheticTip); err != nil {
			return fmt.Errorf("%w: set synthetic branch tip: %v", ErrDatabaseError, err)
		}

		tree := logtree.New(e.logs)
		if err := tree.Reload(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		e.cache.SetLogTree(tree)

		found, mergeErr := e.autoMerge(ctx, tree, fork, meta.Current(), syntheticTip, targetBranch, syntheticBranch)
		if mergeErr != nil {
			return mergeErr
		}
		conflicted = found
		return nil
	})
	if err != nil {
		return err
	}
	if len(conflicted) > 0 {
		return &ConflictError{DocumentIDs: conflicted}
	}
	return nil
}

func logIDAtVersion(entries []store.LogEntry, v store.Version) (*string, bool) {
	for _, e := range entries {
		if e.Version() == v {
			id := e.ID
			return &id, true
		}
	}
	return nil, false
}

func (e *Engine) replicateEntryLocally(ctx context.Context, remote sync.Endpoint, entry store.LogEntry) error {
	if err := e.logs.Insert(ctx, entry); err != nil {
		return fmt.Errorf("%w: replicate log entry: %v", ErrDatabaseError, err)
	}
	if entry.PrevID != nil {
		if err := e.logs.AppendChild(ctx, *entry.PrevID, entry.ID); err != nil {
			return fmt.Errorf("%w: link replicated log entry: %v", ErrDatabaseError, err)
		}
	}
	records, err := remote.Deltas.ForVersion(ctx, entry.Version())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	for _, d := range records {
		if err := e.deltas.Insert(ctx, d); err != nil {
			return fmt.Errorf("%w: replicate delta record: %v", ErrDatabaseError, err)
		}
		if d.PrevID != nil {
			if err := e.deltas.AppendChild(ctx, *d.PrevID, d.ID); err != nil {
				return fmt.Errorf("%w: link replicated delta record: %v", ErrDatabaseError, err)
			}
		}
	}
	return nil
}

// autoMerge runs the delta codec's three-way merge for every document
// touched between fork and either branch tip, writing non-conflicted
// merges to C and recording conflicted documents in the conflicts store,
// per spec §4.8 steps 5-6. It returns the ids of documents left
// conflicted.
func (e *Engine) autoMerge(ctx context.Context, tree *logtree.Tree, fork, destTip, sourceTip store.Version, destBranch, sourceBranch string) ([]string, error) {
	destPath, err := tree.Path(fork, destTip)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	sourcePath, err := tree.Path(fork, sourceTip)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}

	destDeltas, err := e.documentDeltasAlong(ctx, tree, destPath)
	if err != nil {
		return nil, err
	}
	sourceDeltas, err := e.documentDeltasAlong(ctx, tree, sourcePath)
	if err != nil {
		return nil, err
	}

	ids := map[string]struct{}{}
	for id := range destDeltas {
		ids[id] = struct{}{}
	}
	for id := range sourceDeltas {
		ids[id] = struct{}{}
	}

	var conflicted []string
	for id := range ids {
		baseDoc, err := e.baseDocumentAt(ctx, tree, id, fork)
		if err != nil {
			return nil, err
		}

		destDoc := baseDoc
		if d, ok := destDeltas[id]; ok {
			if applied, err := d.Apply(baseDoc); err == nil {
				destDoc = applied
			}
		}
		sourceDoc := baseDoc
		if d, ok := sourceDeltas[id]; ok {
			if applied, err := d.Apply(baseDoc); err == nil {
				sourceDoc = applied
			}
		}

		result := delta.ThreeWayMerge(baseDoc, destDoc, sourceDoc)
		if len(result.Conflicts) > 0 {
			if err := e.conflicts.Put(ctx, store.ConflictRecord{
				DocumentID: id, Destination: fromDocument(destDoc), Source: fromDocument(sourceDoc),
				Merged: fromDocument(result.Merged), DestinationBranch: destBranch, SourceBranch: sourceBranch,
			}); err != nil {
				return nil, fmt.Errorf("%w: write conflict record: %v", ErrDatabaseError, err)
			}
			conflicted = append(conflicted, id)
			continue
		}
		if err := e.writeDocument(ctx, id, result.Merged); err != nil {
			return nil, err
		}
	}

	if len(conflicted) > 0 {
		if err := e.metadata.Update(ctx, bson.M{"has_conflicts": true}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
	}
	return conflicted, nil
}

// baseDocumentAt reconstructs one document's registered state at an
// arbitrary version by composing deltas from the tree root to it, with the
// same deltatree Build/Composed machinery checkoutDocument and Diff use
// along their current-to-target paths — needed here because the merge base (the fork point)
// is rarely C's live state once either side has advanced past it.
func (e *Engine) baseDocumentAt(ctx context.Context, tree *logtree.Tree, documentID string, version store.Version) (delta.Document, error) {
	if version == store.Root {
		return delta.Document{}, nil
	}
	path, err := tree.Path(store.Root, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	partial, err := deltatree.Build(ctx, e.deltas, documentID)
	if err != nil {
		return nil, err
	}
	composed, ok := partial.Composed(tree, path)
	if !ok {
		return delta.Document{}, nil
	}
	return composed.Apply(delta.Document{})
}

// documentDeltasAlong composes, for every document touched along path, the
// single delta transforming its state at path's start into its state at
// path's end.
func (e *Engine) documentDeltasAlong(ctx context.Context, tree *logtree.Tree, path []logtree.Step) (map[string]*delta.Delta, error) {
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
		if composed, ok := partial.Composed(tree, path); ok {
			out[docID] = composed
		}
	}
	return out, nil
}

func (e *Engine) writeDocument(ctx context.Context, documentID string, doc delta.Document) error {
	becomesEmpty := len(doc) == 0
	var before bson.M
	hadBefore := e.target.FindOne(ctx, bson.M{"_id": anyID(documentID)}).Decode(&before) == nil
	var err error
	switch {
	case hadBefore && becomesEmpty:
		_, err = e.target.DeleteOne(ctx, bson.M{"_id": anyID(documentID)})
	case hadBefore && !becomesEmpty:
		_, err = e.target.ReplaceOne(ctx, bson.M{"_id": anyID(documentID)}, fromDocument(doc))
	case !hadBefore && !becomesEmpty:
		out := fromDocument(doc)
		out["_id"] = documentID
		_, err = e.target.InsertOne(ctx, out)
	}
	if err != nil {
		return fmt.Errorf("%w: write merged document %s: %v", ErrDatabaseError, documentID, err)
	}
	return nil
}

// ResolveConflicts invokes the configured Resolver once per conflicted
// document with (destination, source, merged) and writes its resolved
// document to C, per spec §4.8. When the resolver reports ok=false for a
// document (the tool closed without saving), that document's conflict
// record is left in place for a later retry. Once every conflict is
// resolved, has_conflicts is cleared.
func (e *Engine) ResolveConflicts(ctx context.Context) error {
	if e.cfg.Resolver == nil {
		return fmt.Errorf("vcs: no Resolver configured")
	}
	return e.withLock(ctx, true, func(ctx context.Context) error {
		records, err := e.conflicts.All(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		for _, r := range records {
			resolved, ok, err := e.cfg.Resolver.Resolve(ctx, toDocument(r.Destination), toDocument(r.Source), toDocument(r.Merged))
			if err != nil {
				return fmt.Errorf("vcs: resolve conflict for %s: %w", r.DocumentID, err)
			}
			if !ok {
				continue
			}
			if err := e.writeDocument(ctx, r.DocumentID, resolved); err != nil {
				return err
			}
			if err := e.conflicts.Remove(ctx, r.DocumentID); err != nil {
				return fmt.Errorf("%w: remove resolved conflict: %v", ErrDatabaseError, err)
			}
		}

		remaining, err := e.conflicts.Count(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		if remaining == 0 {
			return e.metadata.Update(ctx, bson.M{"has_conflicts": false})
		}
		return ErrUnresolvedConflicts
	})
}
