package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chicify/socialgraph/internal/models"
)

func TestCounterMaintainer(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	m := NewCounterMaintainer(store, zap.NewNop())
	alice, bob, item := uuid.NewString(), uuid.NewString(), uuid.NewString()
	store.PutUser(models.User{ID: alice})
	store.PutUser(models.User{ID: bob})
	store.PutItem(models.Item{ID: item, OwnerID: bob})

	require.NoError(t, m.ApplyFollowCreated(ctx, alice, bob))
	require.NoError(t, m.ApplyLikeCreated(ctx, alice, item))

	a, _ := store.GetUser(ctx, alice)
	b, _ := store.GetUser(ctx, bob)
	it, _ := store.GetItem(ctx, item)
	assert.Equal(t, int64(1), a.FollowingCount)
	assert.Zero(t, a.FollowersCount)
	assert.Equal(t, int64(1), b.FollowersCount)
	assert.Equal(t, int64(1), it.LikesCount)

	require.NoError(t, m.ApplyFollowRemoved(ctx, alice, bob))
	require.NoError(t, m.ApplyLikeRemoved(ctx, alice, item))

	a, _ = store.GetUser(ctx, alice)
	it, _ = store.GetItem(ctx, item)
	assert.Zero(t, a.FollowingCount)
	assert.Zero(t, it.LikesCount)
}

func TestCounterMaintainerClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	m := NewCounterMaintainer(store, zap.NewNop())
	alice, bob := uuid.NewString(), uuid.NewString()
	store.PutUser(models.User{ID: alice})
	store.PutUser(models.User{ID: bob, FollowersCount: 2})

	require.NoError(t, m.ApplyFollowRemoved(ctx, alice, bob))

	a, _ := store.GetUser(ctx, alice)
	b, _ := store.GetUser(ctx, bob)
	assert.Zero(t, a.FollowingCount)
	assert.Equal(t, int64(1), b.FollowersCount)
}

func TestCounterMaintainerRevertsPartialUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	alice, bob := uuid.NewString(), uuid.NewString()
	store.PutUser(models.User{ID: alice})

	m := NewCounterMaintainer(store, zap.NewNop())
	err := m.ApplyFollowCreated(ctx, alice, bob)
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, CodeOf(err))

	a, _ := store.GetUser(ctx, alice)
	assert.Zero(t, a.FollowingCount, "increment on follower must be reverted")
}
