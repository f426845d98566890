package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// ReplicaStore wraps the `replica` auxiliary collection: a snapshot of the
// target collection C at the last registered or checked-out version.
type ReplicaStore struct {
	backend Backend
}

func NewReplicaStore(backend Backend) *ReplicaStore {
	return &ReplicaStore{backend: backend}
}

func (s *ReplicaStore) Get(ctx context.Context, documentID string) (bson.M, error) {
	var doc bson.M
	if err := s.backend.FindOne(ctx, bson.M{"_id": documentID}, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *ReplicaStore) All(ctx context.Context) ([]bson.M, error) {
	cur, err := s.backend.Find(ctx, bson.M{})
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

func (s *ReplicaStore) Put(ctx context.Context, doc bson.M) error {
	id := doc["_id"]
	return s.backend.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": doc}, true)
}

func (s *ReplicaStore) Delete(ctx context.Context, documentID string) error {
	return s.backend.DeleteOne(ctx, bson.M{"_id": documentID})
}

// Replace drops the entire replica snapshot and repopulates it from docs,
// used by register/checkout to refresh the replica from C in one step.
func (s *ReplicaStore) Replace(ctx context.Context, docs []bson.M) error {
	if _, err := s.backend.DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	for _, d := range docs {
		if err := s.backend.InsertOne(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
