package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBackend adapts a real *mongo.Collection to Backend, the way
// nodestorage/v2/storage_impl.go wraps *mongo.Collection for its typed
// Storage[T] operations.
type MongoBackend struct {
	Collection *mongo.Collection
}

func NewMongoBackend(c *mongo.Collection) *MongoBackend {
	return &MongoBackend{Collection: c}
}

func (b *MongoBackend) FindOne(ctx context.Context, filter bson.M, out any) error {
	return b.Collection.FindOne(ctx, filter).Decode(out)
}

func (b *MongoBackend) Find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) (Cursor, error) {
	return b.Collection.Find(ctx, filter, opts...)
}

func (b *MongoBackend) InsertOne(ctx context.Context, doc any) error {
	_, err := b.Collection.InsertOne(ctx, doc)
	return err
}

func (b *MongoBackend) UpdateOne(ctx context.Context, filter, update bson.M, upsert bool) error {
	opts := options.Update().SetUpsert(upsert)
	_, err := b.Collection.UpdateOne(ctx, filter, update, opts)
	return err
}

func (b *MongoBackend) DeleteOne(ctx context.Context, filter bson.M) error {
	_, err := b.Collection.DeleteOne(ctx, filter)
	return err
}

func (b *MongoBackend) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	res, err := b.Collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (b *MongoBackend) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	return b.Collection.CountDocuments(ctx, filter)
}

func (b *MongoBackend) CreateIndexes(ctx context.Context, indexes ...mongo.IndexModel) error {
	_, err := b.Collection.Indexes().CreateMany(ctx, indexes)
	return err
}
