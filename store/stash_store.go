package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// StashStore wraps the `stash` + `stash_modified` auxiliary collections: a
// single-level set of modified documents and their trackers as they stood
// immediately before `stash` was called.
type StashStore struct {
	docs     Backend
	modified Backend
}

func NewStashStore(docs, modified Backend) *StashStore {
	return &StashStore{docs: docs, modified: modified}
}

func (s *StashStore) PutDocument(ctx context.Context, doc bson.M) error {
	return s.docs.InsertOne(ctx, doc)
}

func (s *StashStore) PutTracker(ctx context.Context, e ModifiedEntry) error {
	return s.modified.InsertOne(ctx, e)
}

func (s *StashStore) Documents(ctx context.Context) ([]bson.M, error) {
	cur, err := s.docs.Find(ctx, bson.M{})
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

func (s *StashStore) Trackers(ctx context.Context) ([]ModifiedEntry, error) {
	cur, err := s.modified.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []ModifiedEntry
	for cur.Next(ctx) {
		var e ModifiedEntry
		if err := cur.Decode(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, cur.Err()
}

func (s *StashStore) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.modified.CountDocuments(ctx, bson.M{})
	return n == 0, err
}

func (s *StashStore) Clear(ctx context.Context) error {
	if _, err := s.docs.DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	_, err := s.modified.DeleteMany(ctx, bson.M{})
	return err
}
