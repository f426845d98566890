package vcs

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"nodestorage/vcs/store"
)

// Stash moves every modified tracker and its referenced document into the
// stash stores, then restores those documents in C from replica, per spec
// §4.7.
func (e *Engine) Stash(ctx context.Context) error {
	return e.withLock(ctx, true, func(ctx context.Context) error {
		meta, err := e.metadata.Get(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}
		if !meta.Changed {
			return nil // nothing to stash
		}

		entries, err := e.modified.All(ctx)
		if err != nil {
			return fmt.Errorf("%w: list modified: %v", ErrDatabaseError, err)
		}

		for _, entry := range entries {
			var current bson.M
			if entry.Op != store.OpDelete {
				if err := e.target.FindOne(ctx, bson.M{"_id": anyID(entry.DocumentID)}).Decode(&current); err == nil {
					if err := e.stash.PutDocument(ctx, current); err != nil {
						return fmt.Errorf("%w: stash document %s: %v", ErrDatabaseError, entry.DocumentID, err)
					}
				}
			}
			if err := e.stash.PutTracker(ctx, entry); err != nil {
				return fmt.Errorf("%w: stash tracker %s: %v", ErrDatabaseError, entry.DocumentID, err)
			}

			prior, err := e.replica.Get(ctx, entry.DocumentID)
			switch {
			case err == nil:
				if res, rerr := e.target.ReplaceOne(ctx, bson.M{"_id": anyID(entry.DocumentID)}, prior); rerr != nil || res.MatchedCount == 0 {
					if _, ierr := e.target.InsertOne(ctx, prior); ierr != nil {
						return fmt.Errorf("%w: restore %s from replica: %v", ErrDatabaseError, entry.DocumentID, ierr)
					}
				}
			default:
				_, _ = e.target.DeleteOne(ctx, bson.M{"_id": anyID(entry.DocumentID)})
			}
		}

		if err := e.modified.Clear(ctx); err != nil {
			return fmt.Errorf("%w: clear modified: %v", ErrDatabaseError, err)
		}
		return e.metadata.Update(ctx, bson.M{"changed": false, "has_stash": true})
	})
}

// StashApply overwrites any conflicting documents in C with the stashed
// ones (the stash wins) and drops the stash, restoring their modified
// trackers so a subsequent register picks them back up.
func (e *Engine) StashApply(ctx context.Context) error {
	return e.withLock(ctx, true, func(ctx context.Context) error {
		meta, err := e.metadata.Get(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}
		if !meta.HasStash {
			return nil
		}

		docs, err := e.stash.Documents(ctx)
		if err != nil {
			return fmt.Errorf("%w: read stash documents: %v", ErrDatabaseError, err)
		}
		trackers, err := e.stash.Trackers(ctx)
		if err != nil {
			return fmt.Errorf("%w: read stash trackers: %v", ErrDatabaseError, err)
		}

		for _, doc := range docs {
			id := doc["_id"]
			if res, err := e.target.ReplaceOne(ctx, bson.M{"_id": id}, doc); err != nil || res.MatchedCount == 0 {
				if _, ierr := e.target.InsertOne(ctx, doc); ierr != nil {
					return fmt.Errorf("%w: apply stashed document: %v", ErrDatabaseError, ierr)
				}
			}
		}
		stashedDeletes := map[string]bool{}
		stashedByID := map[string]bool{}
		for _, doc := range docs {
			stashedByID[documentID(doc)] = true
		}
		for _, tr := range trackers {
			if tr.Op == store.OpDelete {
				stashedDeletes[tr.DocumentID] = true
			}
			if err := e.modified.Set(ctx, tr.DocumentID, tr.Op); err != nil {
				return fmt.Errorf("%w: restore modified tracker: %v", ErrDatabaseError, err)
			}
		}
		for docID := range stashedDeletes {
			if !stashedByID[docID] {
				_, _ = e.target.DeleteOne(ctx, bson.M{"_id": anyID(docID)})
			}
		}

		if err := e.stash.Clear(ctx); err != nil {
			return fmt.Errorf("%w: clear stash: %v", ErrDatabaseError, err)
		}
		return e.metadata.Update(ctx, bson.M{"changed": true, "has_stash": false})
	})
}

// StashDiscard drops the stash without applying it.
func (e *Engine) StashDiscard(ctx context.Context) error {
	return e.withLock(ctx, true, func(ctx context.Context) error {
		if err := e.stash.Clear(ctx); err != nil {
			return fmt.Errorf("%w: clear stash: %v", ErrDatabaseError, err)
		}
		return e.metadata.Update(ctx, bson.M{"has_stash": false})
	})
}

// DiscardChanges restores C from replica and clears modified entirely,
// per SPEC_FULL §4.7's supplemental discard_changes(): the counterpart to
// Stash for callers who don't want to keep the working changes at all.
func (e *Engine) DiscardChanges(ctx context.Context) error {
	return e.withLock(ctx, true, func(ctx context.Context) error {
		meta, err := e.metadata.Get(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}
		if !meta.Changed {
			return nil
		}

		replicaDocs, err := e.replica.All(ctx)
		if err != nil {
			return fmt.Errorf("%w: read replica: %v", ErrDatabaseError, err)
		}
		if _, err := e.target.DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("%w: clear target before restore: %v", ErrDatabaseError, err)
		}
		for _, d := range replicaDocs {
			if _, err := e.target.InsertOne(ctx, d); err != nil {
				return fmt.Errorf("%w: restore document from replica: %v", ErrDatabaseError, err)
			}
		}

		if err := e.modified.Clear(ctx); err != nil {
			return fmt.Errorf("%w: clear modified: %v", ErrDatabaseError, err)
		}
		return e.metadata.Update(ctx, bson.M{"changed": false})
	})
}
