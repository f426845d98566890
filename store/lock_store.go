package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// LockRecord is one tracked collection's re-entrant lock state, per spec §3.
type LockRecord struct {
	CollectionName string `bson:"collection_name"`
	Locked         bool   `bson:"locked"`
	HolderID       string `bson:"holder_id,omitempty"`
	Depth          int    `bson:"depth"`
	Epoch          int64  `bson:"epoch"`
}

// LockStore wraps the single __vc_lock collection shared by every tracked
// collection in a database (spec §6).
type LockStore struct {
	backend Backend
}

func NewLockStore(backend Backend) *LockStore {
	return &LockStore{backend: backend}
}

func (s *LockStore) EnsureRecord(ctx context.Context, collectionName string) error {
	return s.backend.UpdateOne(ctx,
		bson.M{"collection_name": collectionName},
		bson.M{"$setOnInsert": bson.M{
			"collection_name": collectionName,
			"locked":          false,
			"depth":           0,
			"epoch":           int64(0),
		}},
		true,
	)
}

func (s *LockStore) Get(ctx context.Context, collectionName string) (*LockRecord, error) {
	var r LockRecord
	if err := s.backend.FindOne(ctx, bson.M{"collection_name": collectionName}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// TryAcquire attempts the CAS from unlocked to locked-by-holderID, or the
// re-entrant increment if already held by holderID. Returns false (no
// error) when the record is held by someone else — callers retry with
// backoff. Grounded on nodestorage/v2/storage_impl.go's
// FindOneAndUpdate-with-version-filter optimistic-concurrency pattern,
// applied to a lock document instead of a data document.
func (s *LockStore) TryAcquire(ctx context.Context, collectionName, holderID string) (bool, error) {
	rec, err := s.Get(ctx, collectionName)
	if err != nil {
		return false, err
	}
	if !rec.Locked {
		return true, s.backend.UpdateOne(ctx,
			bson.M{"collection_name": collectionName, "locked": false},
			bson.M{"$set": bson.M{"locked": true, "holder_id": holderID, "depth": 1}},
			false,
		)
	}
	if rec.HolderID == holderID {
		return true, s.backend.UpdateOne(ctx,
			bson.M{"collection_name": collectionName, "holder_id": holderID},
			bson.M{"$inc": bson.M{"depth": 1}},
			false,
		)
	}
	return false, nil
}

// Release decrements depth; on reaching zero it unlocks and, if bumpEpoch is
// true (the operation mutated state), increments epoch.
func (s *LockStore) Release(ctx context.Context, collectionName, holderID string, bumpEpoch bool) error {
	rec, err := s.Get(ctx, collectionName)
	if err != nil {
		return err
	}
	if rec.Depth > 1 {
		return s.backend.UpdateOne(ctx,
			bson.M{"collection_name": collectionName},
			bson.M{"$inc": bson.M{"depth": -1}},
			false,
		)
	}
	update := bson.M{"locked": false, "holder_id": "", "depth": 0}
	inc := bson.M{}
	if bumpEpoch {
		inc["epoch"] = int64(1)
	}
	mongoUpdate := bson.M{"$set": update}
	if len(inc) > 0 {
		mongoUpdate["$inc"] = inc
	}
	return s.backend.UpdateOne(ctx, bson.M{"collection_name": collectionName}, mongoUpdate, false)
}
