package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/chicify/socialgraph/internal/graph"
	"github.com/chicify/socialgraph/internal/models"
	"github.com/chicify/socialgraph/pkg/config"
)

func TestClampedAdd(t *testing.T) {
	pipeline := clampedAdd("likesCount", -1)
	require.Len(t, pipeline, 1)

	stage, err := bson.MarshalExtJSON(pipeline[0], false, false)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"$set":{"likesCount":{"$max":[0,{"$add":[{"$ifNull":["$likesCount",0]},-1]}]}}}`,
		string(stage))
}

func TestEdgeDocConversion(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	follow := edgeDoc{FollowerID: "a", FolloweeID: "b", CreatedAt: at}.edge(graph.KindFollow)
	assert.Equal(t, graph.Edge{Kind: graph.KindFollow, Source: "a", Target: "b", CreatedAt: at}, follow)

	like := edgeDoc{UserID: "u", ItemID: "i", CreatedAt: at}.edge(graph.KindLike)
	assert.Equal(t, graph.Edge{Kind: graph.KindLike, Source: "u", Target: "i", CreatedAt: at}, like)
}

func TestEdgeDocFieldNames(t *testing.T) {
	tests := []struct {
		name string
		doc  edgeDoc
		want string
	}{
		{"follow", edgeDoc{FollowerID: "a", FolloweeID: "b"}, `{"followerId":"a","followingId":"b","createdAt":{"$date":"1970-01-01T00:00:00Z"}}`},
		{"like", edgeDoc{UserID: "u", ItemID: "i"}, `{"userId":"u","outfitId":"i","createdAt":{"$date":"1970-01-01T00:00:00Z"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.doc.CreatedAt = time.Unix(0, 0).UTC()
			raw, err := bson.MarshalExtJSON(tt.doc, false, false)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
	assert.Equal(t, edgeFields{"followerId", "followingId"}, edgeFieldsByKind[graph.KindFollow])
	assert.Equal(t, edgeFields{"userId", "outfitId"}, edgeFieldsByKind[graph.KindLike])
}

func TestCounterDocValue(t *testing.T) {
	doc := counterDoc{FollowersCount: 1, FollowingCount: 2, LikesCount: 3}
	assert.Equal(t, int64(1), doc.value(graph.FieldFollowers))
	assert.Equal(t, int64(2), doc.value(graph.FieldFollowing))
	assert.Equal(t, int64(3), doc.value(graph.FieldLikes))
}

// TestStoreAgainstMongo runs only when CHICIFY_TEST_MONGO_URI points at a
// disposable MongoDB instance.
func TestStoreAgainstMongo(t *testing.T) {
	uri := os.Getenv("CHICIFY_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CHICIFY_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	dbName := "socialgraph_test_" + uuid.NewString()[:8]
	client, err := Connect(ctx, &config.MongoConfig{URI: uri, Database: dbName}, zap.NewNop())
	require.NoError(t, err)
	defer func() {
		_ = client.Database().Drop(ctx)
		_ = client.Close(ctx)
	}()
	require.NoError(t, client.EnsureIndexes(ctx))

	store := NewStore(client.Database())
	alice, bob := uuid.NewString(), uuid.NewString()
	_, err = client.Database().Collection(UsersCollection).InsertMany(ctx, []interface{}{
		models.User{ID: alice, Name: "alice"},
		models.User{ID: bob, Name: "bob"},
	})
	require.NoError(t, err)

	edge := graph.Edge{Kind: graph.KindFollow, Source: alice, Target: bob, CreatedAt: time.Now().UTC().Truncate(time.Millisecond)}
	require.NoError(t, store.Insert(ctx, edge))
	assert.ErrorIs(t, store.Insert(ctx, edge), graph.ErrEdgeExists)

	got, err := store.Get(ctx, graph.KindFollow, alice, bob)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CreatedAt.Equal(edge.CreatedAt))

	clamped, err := store.Adjust(ctx, graph.CounterRef{Field: graph.FieldFollowers, ID: bob}, 1)
	require.NoError(t, err)
	assert.False(t, clamped)
	clamped, err = store.Adjust(ctx, graph.CounterRef{Field: graph.FieldFollowers, ID: bob}, -2)
	require.NoError(t, err)
	assert.True(t, clamped)

	user, err := store.GetUser(ctx, bob)
	require.NoError(t, err)
	assert.Zero(t, user.FollowersCount)

	_, err = store.Adjust(ctx, graph.CounterRef{Field: graph.FieldLikes, ID: uuid.NewString()}, 1)
	assert.ErrorIs(t, err, graph.ErrEntityMissing)

	removed, err := store.Remove(ctx, graph.KindFollow, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, alice, removed.Source)
	_, err = store.Remove(ctx, graph.KindFollow, alice, bob)
	assert.ErrorIs(t, err, graph.ErrEdgeMissing)

	ids, err := store.ListUserIDs(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}
