//go:build integration

package vcs

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nodestorage/vcs/delta"
	"nodestorage/vcs/resolver"
)

// requires a replica-set-mode mongod reachable at VC_TEST_MONGO_URI, same
// as listener's integration tests: change streams need an oplog.
func strPtr(s string) *string { return &s }

func dialTestMongo(t *testing.T) *mongo.Client {
	uri := os.Getenv("VC_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("VC_TEST_MONGO_URI not set")
	}
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	require.NoError(t, err)
	return client
}

func openTestEngine(t *testing.T, dbName string) (*Engine, *mongo.Database) {
	client := dialTestMongo(t)
	ctx := context.Background()
	db := client.Database(dbName)
	t.Cleanup(func() { _ = db.Drop(ctx) })

	cfg := NewConfig(WithDatabase(db), WithTarget("widgets"), WithHolderID(dbName))
	e, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Init(ctx, "root"))
	return e, db
}

func TestRegisterAndCheckoutRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, db := openTestEngine(t, "vcs_it_register")

	_, err := db.Collection("widgets").InsertOne(ctx, bson.M{"_id": "w1", "name": "alice"})
	require.NoError(t, err)
	require.NoError(t, e.fence(ctx))

	v1, err := e.Register(ctx, "add w1", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), v1.N)

	_, err = db.Collection("widgets").UpdateOne(ctx, bson.M{"_id": "w1"}, bson.M{"$set": bson.M{"name": "bob"}})
	require.NoError(t, err)
	require.NoError(t, e.fence(ctx))
	v2, err := e.Register(ctx, "rename w1", nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), v2.N)

	_, err = e.Checkout(ctx, &v1.N, nil)
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, db.Collection("widgets").FindOne(ctx, bson.M{"_id": "w1"}).Decode(&doc))
	require.Equal(t, "alice", doc["name"])

	_, err = e.Checkout(ctx, &v2.N, nil)
	require.NoError(t, err)
	require.NoError(t, db.Collection("widgets").FindOne(ctx, bson.M{"_id": "w1"}).Decode(&doc))
	require.Equal(t, "bob", doc["name"])
}

func TestCreateBranchRegistersIndependently(t *testing.T) {
	ctx := context.Background()
	e, db := openTestEngine(t, "vcs_it_branch")

	_, err := db.Collection("widgets").InsertOne(ctx, bson.M{"_id": "w1", "name": "alice"})
	require.NoError(t, err)
	require.NoError(t, e.fence(ctx))
	_, err = e.Register(ctx, "add w1", nil)
	require.NoError(t, err)

	require.NoError(t, e.CreateBranch(ctx, "feature"))
	_, err = db.Collection("widgets").UpdateOne(ctx, bson.M{"_id": "w1"}, bson.M{"$set": bson.M{"name": "carol"}})
	require.NoError(t, err)
	require.NoError(t, e.fence(ctx))
	branch := "feature"
	v, err := e.Register(ctx, "feature change", &branch)
	require.NoError(t, err)
	require.Equal(t, int64(2), v.N, "n continues from the fork point's n, per the branch record's tip_n")
	require.Equal(t, "feature", v.Branch)

	_, err = e.Checkout(ctx, nil, strPtr("main"))
	require.NoError(t, err)
	var doc bson.M
	require.NoError(t, db.Collection("widgets").FindOne(ctx, bson.M{"_id": "w1"}).Decode(&doc))
	require.Equal(t, "alice", doc["name"])
}

func TestPushPullFastForward(t *testing.T) {
	ctx := context.Background()
	local, localDB := openTestEngine(t, "vcs_it_push_local")
	remote, remoteDB := openTestEngine(t, "vcs_it_push_remote")
	_ = remoteDB

	_, err := localDB.Collection("widgets").InsertOne(ctx, bson.M{"_id": "w1", "name": "alice"})
	require.NoError(t, err)
	require.NoError(t, local.fence(ctx))
	_, err = local.Register(ctx, "add w1", nil)
	require.NoError(t, err)

	require.NoError(t, local.Push(ctx, remote.AsEndpoint("remote"), nil))

	var doc bson.M
	require.NoError(t, remoteDB.Collection("widgets").FindOne(ctx, bson.M{"_id": "w1"}).Decode(&doc))
	require.Equal(t, "alice", doc["name"])
}

func TestPullDivergentAutoMergesDisjointFields(t *testing.T) {
	ctx := context.Background()
	local, localDB := openTestEngine(t, "vcs_it_pull_local")
	remote, remoteDB := openTestEngine(t, "vcs_it_pull_remote")

	_, err := localDB.Collection("widgets").InsertOne(ctx, bson.M{"_id": "w1", "name": "alice", "score": 1})
	require.NoError(t, err)
	require.NoError(t, local.fence(ctx))
	_, err = local.Register(ctx, "add w1", nil)
	require.NoError(t, err)
	require.NoError(t, local.Push(ctx, remote.AsEndpoint("remote"), nil))

	// Diverge: local changes score, remote changes name, same base version.
	_, err = localDB.Collection("widgets").UpdateOne(ctx, bson.M{"_id": "w1"}, bson.M{"$set": bson.M{"score": 2}})
	require.NoError(t, err)
	require.NoError(t, local.fence(ctx))
	_, err = local.Register(ctx, "bump score", nil)
	require.NoError(t, err)

	_, err = remoteDB.Collection("widgets").UpdateOne(ctx, bson.M{"_id": "w1"}, bson.M{"$set": bson.M{"name": "bob"}})
	require.NoError(t, err)
	require.NoError(t, remote.fence(ctx))
	_, err = remote.Register(ctx, "rename", nil)
	require.NoError(t, err)

	err = local.Pull(ctx, remote.AsEndpoint("remote"), nil)
	require.NoError(t, err, "non-conflicting field changes should auto-merge cleanly")

	var doc bson.M
	require.NoError(t, localDB.Collection("widgets").FindOne(ctx, bson.M{"_id": "w1"}).Decode(&doc))
	require.Equal(t, "bob", doc["name"])
	require.EqualValues(t, 2, doc["score"])
}

func TestResolveConflictsWritesResolverOutput(t *testing.T) {
	ctx := context.Background()
	local, localDB := openTestEngine(t, "vcs_it_resolve_local")
	remote, remoteDB := openTestEngine(t, "vcs_it_resolve_remote")

	_, err := localDB.Collection("widgets").InsertOne(ctx, bson.M{"_id": "w1", "name": "alice"})
	require.NoError(t, err)
	require.NoError(t, local.fence(ctx))
	_, err = local.Register(ctx, "add w1", nil)
	require.NoError(t, err)
	require.NoError(t, local.Push(ctx, remote.AsEndpoint("remote"), nil))

	_, err = localDB.Collection("widgets").UpdateOne(ctx, bson.M{"_id": "w1"}, bson.M{"$set": bson.M{"name": "bob"}})
	require.NoError(t, err)
	require.NoError(t, local.fence(ctx))
	_, err = local.Register(ctx, "local rename", nil)
	require.NoError(t, err)

	_, err = remoteDB.Collection("widgets").UpdateOne(ctx, bson.M{"_id": "w1"}, bson.M{"$set": bson.M{"name": "carol"}})
	require.NoError(t, err)
	require.NoError(t, remote.fence(ctx))
	_, err = remote.Register(ctx, "remote rename", nil)
	require.NoError(t, err)

	pullErr := local.Pull(ctx, remote.AsEndpoint("remote"), nil)
	require.Error(t, pullErr, "same field changed on both sides must conflict")
	var conflictErr *ConflictError
	require.ErrorAs(t, pullErr, &conflictErr)
	require.Contains(t, conflictErr.DocumentIDs, "w1")

	local.cfg.Resolver = resolver.Func(func(ctx context.Context, destination, source, merged delta.Document) (delta.Document, bool, error) {
		resolved := delta.Document{}
		for k, v := range destination {
			resolved[k] = v
		}
		resolved["name"] = "bob-and-carol"
		return resolved, true, nil
	})
	require.NoError(t, local.ResolveConflicts(ctx))

	var doc bson.M
	require.NoError(t, localDB.Collection("widgets").FindOne(ctx, bson.M{"_id": "w1"}).Decode(&doc))
	require.Equal(t, "bob-and-carol", doc["name"])

	status, err := local.Status(ctx)
	require.NoError(t, err)
	require.False(t, status.HasConflicts)
}
