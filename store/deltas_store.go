package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DeltaRecord is one document's delta at one version, per spec §3's
// `deltas` store. Forward/Backward are the delta codec's binary encoding
// (delta.Marshal/Unmarshal).
type DeltaRecord struct {
	ID         string  `bson:"id"`
	DocumentID string  `bson:"document_id"`
	VersionN   int64   `bson:"version_n"`
	Branch     string  `bson:"branch"`
	Timestamp  int64   `bson:"timestamp"`
	Forward    []byte  `bson:"forward"`
	Backward   []byte  `bson:"backward"`
	PrevID     *string `bson:"prev_id"`
	NextIDs    []string `bson:"next_ids"`
}

func (d DeltaRecord) Version() Version { return Version{N: d.VersionN, Branch: d.Branch} }

// DeltaStore wraps the `deltas` auxiliary collection.
type DeltaStore struct {
	backend Backend
}

func NewDeltaStore(backend Backend) *DeltaStore {
	return &DeltaStore{backend: backend}
}

func (s *DeltaStore) EnsureIndexes(ctx context.Context) error {
	return s.backend.CreateIndexes(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "document_id", Value: 1},
			{Key: "version_n", Value: 1},
			{Key: "branch", Value: 1},
		},
		Options: options.Index(),
	})
}

func (s *DeltaStore) Insert(ctx context.Context, d DeltaRecord) error {
	return s.backend.InsertOne(ctx, d)
}

// ForDocument returns every delta recorded for documentID, in no particular
// order; callers reconstruct the tree/path ordering themselves (§4.4).
func (s *DeltaStore) ForDocument(ctx context.Context, documentID string) ([]DeltaRecord, error) {
	cur, err := s.backend.Find(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []DeltaRecord
	for cur.Next(ctx) {
		var d DeltaRecord
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, cur.Err()
}

// ForVersion returns every delta recorded at exactly one version, used by
// push/pull to replicate one log entry's worth of document changes.
func (s *DeltaStore) ForVersion(ctx context.Context, v Version) ([]DeltaRecord, error) {
	cur, err := s.backend.Find(ctx, bson.M{"version_n": v.N, "branch": v.Branch})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []DeltaRecord
	for cur.Next(ctx) {
		var d DeltaRecord
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, cur.Err()
}

func (s *DeltaStore) AppendChild(ctx context.Context, parentID, childID string) error {
	return s.backend.UpdateOne(ctx,
		bson.M{"id": parentID},
		bson.M{"$push": bson.M{"next_ids": childID}},
		false,
	)
}

func (s *DeltaStore) DeleteForVersions(ctx context.Context, versions []Version) (int64, error) {
	if len(versions) == 0 {
		return 0, nil
	}
	var or bson.A
	for _, v := range versions {
		or = append(or, bson.M{"version_n": v.N, "branch": v.Branch})
	}
	return s.backend.DeleteMany(ctx, bson.M{"$or": or})
}
