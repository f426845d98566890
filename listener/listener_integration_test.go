//go:build integration

package listener

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nodestorage/vcs/store"
)

// requires a replica-set-mode mongod reachable at VC_TEST_MONGO_URI; change
// streams need an oplog, so this is skipped unless that's configured.
func dialTestMongo(t *testing.T) *mongo.Client {
	uri := os.Getenv("VC_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("VC_TEST_MONGO_URI not set")
	}
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	require.NoError(t, err)
	return client
}

func TestListenerFenceObservesRapidInserts(t *testing.T) {
	client := dialTestMongo(t)
	ctx := context.Background()
	db := client.Database("vcs_listener_test")
	defer db.Drop(ctx)

	coll := db.Collection("widgets")
	modified := store.NewModifiedStore(store.NewMongoBackend(db.Collection("__modified_widgets")))
	metadata := store.NewMetadataStore(store.NewMongoBackend(db.Collection("__metadata_widgets")))
	replica := store.NewReplicaStore(store.NewMongoBackend(db.Collection("__replica_widgets")))
	require.NoError(t, metadata.Init(ctx, store.Metadata{CurrentBranch: "main"}))

	l := New(coll, modified, metadata, replica)
	require.NoError(t, l.Start(ctx))
	defer l.Stop()

	for i := 0; i < 1000; i++ {
		_, err := coll.InsertOne(ctx, bson.M{"_id": i})
		require.NoError(t, err)
	}

	require.NoError(t, l.Fence(ctx, 10*time.Second))

	count, err := modified.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1000), count)
}
