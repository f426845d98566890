package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BranchRecord is one branch's tip pointer, per spec §3's `branches` store.
type BranchRecord struct {
	Name       string `bson:"name"`
	TipN       int64  `bson:"tip_n"`
	TipBranch  string `bson:"tip_branch"`
}

func (r BranchRecord) Tip() Version { return Version{N: r.TipN, Branch: r.TipBranch} }

// BranchStore wraps the `branches` auxiliary collection.
type BranchStore struct {
	backend Backend
}

func NewBranchStore(backend Backend) *BranchStore {
	return &BranchStore{backend: backend}
}

func (s *BranchStore) EnsureIndexes(ctx context.Context) error {
	return s.backend.CreateIndexes(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
}

func (s *BranchStore) Get(ctx context.Context, name string) (*BranchRecord, error) {
	var r BranchRecord
	if err := s.backend.FindOne(ctx, bson.M{"name": name}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BranchStore) Create(ctx context.Context, r BranchRecord) error {
	return s.backend.InsertOne(ctx, r)
}

func (s *BranchStore) SetTip(ctx context.Context, name string, tip Version) error {
	return s.backend.UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{"$set": bson.M{"tip_n": tip.N, "tip_branch": tip.Branch}},
		false,
	)
}

func (s *BranchStore) Delete(ctx context.Context, name string) error {
	return s.backend.DeleteOne(ctx, bson.M{"name": name})
}

func (s *BranchStore) All(ctx context.Context) ([]BranchRecord, error) {
	cur, err := s.backend.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []BranchRecord
	for cur.Next(ctx) {
		var r BranchRecord
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, cur.Err()
}
