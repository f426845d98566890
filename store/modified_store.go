package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Op is the kind of change a modified tracker records.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ModifiedEntry is one document's pending-change tracker, per spec §3's
// `modified` store.
type ModifiedEntry struct {
	ID         string `bson:"id"`
	DocumentID string `bson:"document_id"`
	Op         Op     `bson:"op"`
}

// ModifiedStore wraps the `modified` auxiliary collection. Coalescing
// (spec §4.5's precedence table) lives in the listener package, which is
// the sole writer; this store exposes the raw upsert/read/clear primitives.
type ModifiedStore struct {
	backend Backend
}

func NewModifiedStore(backend Backend) *ModifiedStore {
	return &ModifiedStore{backend: backend}
}

func (s *ModifiedStore) EnsureIndexes(ctx context.Context) error {
	return s.backend.CreateIndexes(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "document_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
}

func (s *ModifiedStore) Get(ctx context.Context, documentID string) (*ModifiedEntry, error) {
	var e ModifiedEntry
	if err := s.backend.FindOne(ctx, bson.M{"document_id": documentID}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Set overwrites (or creates) the tracker for documentID with op.
func (s *ModifiedStore) Set(ctx context.Context, documentID string, op Op) error {
	return s.backend.UpdateOne(ctx,
		bson.M{"document_id": documentID},
		bson.M{"$set": bson.M{"id": documentID, "document_id": documentID, "op": string(op)}},
		true,
	)
}

// Drop removes the tracker for documentID entirely (net no-op case).
func (s *ModifiedStore) Drop(ctx context.Context, documentID string) error {
	return s.backend.DeleteOne(ctx, bson.M{"document_id": documentID})
}

func (s *ModifiedStore) All(ctx context.Context) ([]ModifiedEntry, error) {
	cur, err := s.backend.Find(ctx, bson.M{})
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

func (s *ModifiedStore) Clear(ctx context.Context) error {
	_, err := s.backend.DeleteMany(ctx, bson.M{})
	return err
}

func (s *ModifiedStore) Count(ctx context.Context) (int64, error) {
	return s.backend.CountDocuments(ctx, bson.M{})
}
