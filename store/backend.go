// Package store provides typed wrappers over the engine's auxiliary
// collections (branches, deltas, log, metadata, modified, replica, stash,
// stash_modified, conflicts) and the per-database lock collection, plus the
// Backend seam that lets every store run against either a real MongoDB
// collection or an in-memory fake in tests.
package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Cursor abstracts over *mongo.Cursor so Backend.Find can be satisfied by an
// in-memory fake without the driver's wire-level cursor machinery.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	Close(ctx context.Context) error
}

// Backend is the seam every tracking store is built against, grounded on the
// filter/update/options shapes nodestorage/v2/storage_impl.go uses against
// *mongo.Collection. A real deployment uses MongoBackend; unit tests use
// MemoryBackend so the package tests in §8 don't require a live mongod.
type Backend interface {
	FindOne(ctx context.Context, filter bson.M, out any) error
	Find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) (Cursor, error)
	InsertOne(ctx context.Context, doc any) error
	UpdateOne(ctx context.Context, filter, update bson.M, upsert bool) error
	DeleteOne(ctx context.Context, filter bson.M) error
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)
	CountDocuments(ctx context.Context, filter bson.M) (int64, error)
	CreateIndexes(ctx context.Context, indexes ...mongo.IndexModel) error
}

// ErrNoDocuments mirrors mongo.ErrNoDocuments so callers can test with errors.Is
// regardless of which Backend implementation produced the miss.
var ErrNoDocuments = mongo.ErrNoDocuments
