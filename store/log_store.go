package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LogEntry is one registered version, per spec §3's `log` store.
type LogEntry struct {
	ID        string   `bson:"id"`
	N         int64    `bson:"n"`
	Branch    string   `bson:"branch"`
	Timestamp int64    `bson:"timestamp"`
	Message   string   `bson:"message"`
	PrevID    *string  `bson:"prev_id"`
	NextIDs   []string `bson:"next_ids"`
}

func (e LogEntry) Version() Version { return Version{N: e.N, Branch: e.Branch} }

// LogStore wraps the `log` auxiliary collection.
type LogStore struct {
	backend Backend
}

func NewLogStore(backend Backend) *LogStore {
	return &LogStore{backend: backend}
}

// EnsureIndexes creates the unique (branch, n) index the log tree relies on
// to find a branch's sequence of versions, grounded on
// eventsync/state_vector.go's constructor-creates-indexes shape.
func (s *LogStore) EnsureIndexes(ctx context.Context) error {
	return s.backend.CreateIndexes(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "branch", Value: 1}, {Key: "n", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
}

func (s *LogStore) Insert(ctx context.Context, e LogEntry) error {
	return s.backend.InsertOne(ctx, e)
}

func (s *LogStore) ByID(ctx context.Context, id string) (*LogEntry, error) {
	var e LogEntry
	if err := s.backend.FindOne(ctx, bson.M{"id": id}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *LogStore) ByVersion(ctx context.Context, v Version) (*LogEntry, error) {
	var e LogEntry
	filter := bson.M{"n": v.N, "branch": v.Branch}
	if err := s.backend.FindOne(ctx, filter, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// All returns every log entry, for loading the in-memory log tree.
func (s *LogStore) All(ctx context.Context) ([]LogEntry, error) {
	cur, err := s.backend.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []LogEntry
	for cur.Next(ctx) {
		var e LogEntry
		if err := cur.Decode(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, cur.Err()
}

// AppendChild adds childID to the parent entry's next_ids.
func (s *LogStore) AppendChild(ctx context.Context, parentID, childID string) error {
	return s.backend.UpdateOne(ctx,
		bson.M{"id": parentID},
		bson.M{"$push": bson.M{"next_ids": childID}},
		false,
	)
}

// DeleteSubtree removes the given ids from the log store.
func (s *LogStore) DeleteSubtree(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	arr := make(bson.A, len(ids))
	for i, id := range ids {
		arr[i] = id
	}
	return s.backend.DeleteMany(ctx, bson.M{"id": bson.M{"$in": arr}})
}
