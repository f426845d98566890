package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// ConflictRecord is one unresolved conflicted document, per spec §3's
// `conflicts` store.
type ConflictRecord struct {
	DocumentID       string `bson:"document_id"`
	Destination      bson.M `bson:"destination"`
	Source           bson.M `bson:"source"`
	Merged           bson.M `bson:"merged"`
	DestinationBranch string `bson:"destination_branch"`
	SourceBranch     string `bson:"source_branch"`
}

// ConflictStore wraps the `conflicts` auxiliary collection, which exists
// only while metadata.has_conflicts is true.
type ConflictStore struct {
	backend Backend
}

func NewConflictStore(backend Backend) *ConflictStore {
	return &ConflictStore{backend: backend}
}

func (s *ConflictStore) Put(ctx context.Context, r ConflictRecord) error {
	return s.backend.UpdateOne(ctx,
		bson.M{"document_id": r.DocumentID},
		bson.M{"$set": bson.M{
			"destination":       r.Destination,
			"source":            r.Source,
			"merged":            r.Merged,
			"destination_branch": r.DestinationBranch,
			"source_branch":     r.SourceBranch,
		}},
		true,
	)
}

func (s *ConflictStore) Remove(ctx context.Context, documentID string) error {
	return s.backend.DeleteOne(ctx, bson.M{"document_id": documentID})
}

func (s *ConflictStore) All(ctx context.Context) ([]ConflictRecord, error) {
	cur, err := s.backend.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []ConflictRecord
	for cur.Next(ctx) {
		var r ConflictRecord
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, cur.Err()
}

func (s *ConflictStore) Count(ctx context.Context) (int64, error) {
	return s.backend.CountDocuments(ctx, bson.M{})
}
