package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chicify/socialgraph/internal/models"
)

// ViewBuilder produces the read-only list and count views. It never writes.
// Entities that disappeared since an edge was written are skipped rather
// than returned as placeholders.
type ViewBuilder struct {
	edges    EdgeStore
	entities EntityStore
	group    singleflight.Group
	timeout  time.Duration
	logger   *zap.Logger
}

// NewViewBuilder creates a new view builder. Identical concurrent list
// requests share one backend round trip, bounded by timeout.
func NewViewBuilder(edges EdgeStore, entities EntityStore, timeout time.Duration, logger *zap.Logger) *ViewBuilder {
	return &ViewBuilder{
		edges:    edges,
		entities: entities,
		timeout:  timeout,
		logger:   logger,
	}
}

// ListFollowing returns the users userID follows, newest follow first
func (v *ViewBuilder) ListFollowing(ctx context.Context, userID string) ([]FollowEntry, error) {
	userID, err := NormalizeID("userId", userID)
	if err != nil {
		return nil, err
	}
	return coalesce(ctx, v, "following:"+userID, func(ctx context.Context) ([]FollowEntry, error) {
		edges, err := v.edges.ListBySource(ctx, KindFollow, userID)
		if err != nil {
			return nil, err
		}
		return v.followEntries(ctx, edges, func(e Edge) string { return e.Target })
	})
}

// ListFollowers returns the users following userID, newest follow first
func (v *ViewBuilder) ListFollowers(ctx context.Context, userID string) ([]FollowEntry, error) {
	userID, err := NormalizeID("userId", userID)
	if err != nil {
		return nil, err
	}
	return coalesce(ctx, v, "followers:"+userID, func(ctx context.Context) ([]FollowEntry, error) {
		edges, err := v.edges.ListByTarget(ctx, KindFollow, userID)
		if err != nil {
			return nil, err
		}
		return v.followEntries(ctx, edges, func(e Edge) string { return e.Source })
	})
}

// ListLikedItems returns the items userID likes with their owners, newest
// like first.
func (v *ViewBuilder) ListLikedItems(ctx context.Context, userID string) ([]LikedItemEntry, error) {
	userID, err := NormalizeID("userId", userID)
	if err != nil {
		return nil, err
	}
	return coalesce(ctx, v, "liked:"+userID, func(ctx context.Context) ([]LikedItemEntry, error) {
		edges, err := v.edges.ListBySource(ctx, KindLike, userID)
		if err != nil {
			return nil, err
		}
		return v.likedEntries(ctx, edges)
	})
}

// FollowCounts returns the denormalized counters of userID
func (v *ViewBuilder) FollowCounts(ctx context.Context, userID string) (*FollowCounts, error) {
	userID, err := NormalizeID("userId", userID)
	if err != nil {
		return nil, err
	}
	u, err := v.entities.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return &FollowCounts{
		UserID:         u.ID,
		FollowersCount: u.FollowersCount,
		FollowingCount: u.FollowingCount,
	}, nil
}

// LikeCount returns the denormalized likes counter of itemID
func (v *ViewBuilder) LikeCount(ctx context.Context, itemID string) (int64, error) {
	itemID, err := NormalizeID("itemId", itemID)
	if err != nil {
		return 0, err
	}
	it, err := v.entities.GetItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if it == nil {
		return 0, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	return it.LikesCount, nil
}

func (v *ViewBuilder) followEntries(ctx context.Context, edges []Edge, peerOf func(Edge) string) ([]FollowEntry, error) {
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, peerOf(e))
	}
	users, err := v.entities.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]FollowEntry, 0, len(edges))
	for _, e := range edges {
		u, ok := users[peerOf(e)]
		if !ok {
			v.logger.Debug("Skipping follow edge with missing user", zap.String("userId", peerOf(e)))
			continue
		}
		out = append(out, FollowEntry{Peer: summarizeUser(u), FollowedAt: e.CreatedAt})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].FollowedAt.Equal(out[j].FollowedAt) {
			return out[i].FollowedAt.After(out[j].FollowedAt)
		}
		return out[i].Peer.ID < out[j].Peer.ID
	})
	return out, nil
}

func (v *ViewBuilder) likedEntries(ctx context.Context, edges []Edge) ([]LikedItemEntry, error) {
	itemIDs := make([]string, 0, len(edges))
	for _, e := range edges {
		itemIDs = append(itemIDs, e.Target)
	}
	items, err := v.entities.GetItems(ctx, itemIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(items))
	ownerIDs := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it.OwnerID] {
			seen[it.OwnerID] = true
			ownerIDs = append(ownerIDs, it.OwnerID)
		}
	}
	owners, err := v.entities.GetUsers(ctx, ownerIDs)
	if err != nil {
		return nil, err
	}

	out := make([]LikedItemEntry, 0, len(edges))
	for _, e := range edges {
		it, ok := items[e.Target]
		if !ok {
			v.logger.Debug("Skipping like edge with missing item", zap.String("itemId", e.Target))
			continue
		}
		owner, ok := owners[it.OwnerID]
		if !ok {
			v.logger.Debug("Skipping liked item with missing owner", zap.String("itemId", it.ID))
			continue
		}
		out = append(out, LikedItemEntry{
			Item:    summarizeItem(it),
			Owner:   summarizeUser(owner),
			LikedAt: e.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LikedAt.Equal(out[j].LikedAt) {
			return out[i].LikedAt.After(out[j].LikedAt)
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	return out, nil
}

// coalesce runs fetch once per key among concurrent callers. The fetch is
// detached from any single caller's cancellation, since others may share it,
// and each caller gets its own copy of the result.
func coalesce[T any](ctx context.Context, v *ViewBuilder, key string, fetch func(context.Context) ([]T, error)) ([]T, error) {
	ch := v.group.DoChan(key, func() (interface{}, error) {
		fctx := context.WithoutCancel(ctx)
		if v.timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, v.timeout)
			defer cancel()
		}
		return fetch(fctx)
	})

	select {
	case <-ctx.Done():
		return nil, Unavailable("list "+key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		shared := res.Val.([]T)
		return append(make([]T, 0, len(shared)), shared...), nil
	}
}

func summarizeUser(u *models.User) UserSummary {
	return UserSummary{
		ID:             u.ID,
		Name:           u.Name,
		Username:       u.Username,
		Email:          u.Email,
		FollowersCount: u.FollowersCount,
		FollowingCount: u.FollowingCount,
	}
}

func summarizeItem(it *models.Item) ItemSummary {
	return ItemSummary{
		ID:         it.ID,
		Title:      it.Title,
		ImageURL:   it.ImageURL,
		Tags:       append([]string(nil), it.Tags...),
		LikesCount: it.LikesCount,
	}
}
