package graph

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// CounterMaintainer is the single place where denormalized counters change.
// It applies the relative updates that accompany an edge being created or
// removed.
type CounterMaintainer struct {
	store  CounterStore
	logger *zap.Logger
}

// NewCounterMaintainer creates a new counter maintainer
func NewCounterMaintainer(store CounterStore, logger *zap.Logger) *CounterMaintainer {
	return &CounterMaintainer{
		store:  store,
		logger: logger,
	}
}

type adjustment struct {
	ref   CounterRef
	delta int64
}

// ApplyFollowCreated increments followingCount on the follower and
// followersCount on the followee.
func (m *CounterMaintainer) ApplyFollowCreated(ctx context.Context, followerID, followeeID string) error {
	return m.apply(ctx, "follow_created", KindFollow, followerID, followeeID,
		adjustment{CounterRef{FieldFollowing, followerID}, 1},
		adjustment{CounterRef{FieldFollowers, followeeID}, 1},
	)
}

// ApplyFollowRemoved reverses ApplyFollowCreated
func (m *CounterMaintainer) ApplyFollowRemoved(ctx context.Context, followerID, followeeID string) error {
	return m.apply(ctx, "follow_removed", KindFollow, followerID, followeeID,
		adjustment{CounterRef{FieldFollowing, followerID}, -1},
		adjustment{CounterRef{FieldFollowers, followeeID}, -1},
	)
}

// ApplyLikeCreated increments likesCount on the item
func (m *CounterMaintainer) ApplyLikeCreated(ctx context.Context, userID, itemID string) error {
	return m.apply(ctx, "like_created", KindLike, userID, itemID,
		adjustment{CounterRef{FieldLikes, itemID}, 1},
	)
}

// ApplyLikeRemoved reverses ApplyLikeCreated
func (m *CounterMaintainer) ApplyLikeRemoved(ctx context.Context, userID, itemID string) error {
	return m.apply(ctx, "like_removed", KindLike, userID, itemID,
		adjustment{CounterRef{FieldLikes, itemID}, -1},
	)
}

// apply runs the adjustments in order. If one fails, the ones already applied
// are reverted so that the caller only has the edge left to compensate.
func (m *CounterMaintainer) apply(ctx context.Context, op string, kind Kind, source, target string, adjs ...adjustment) error {
	applied := make([]adjustment, 0, len(adjs))
	for _, adj := range adjs {
		clamped, err := m.store.Adjust(ctx, adj.ref, adj.delta)
		if err != nil {
			if errors.Is(err, ErrEntityMissing) {
				err = fmt.Errorf("%w: %w", ErrNotFound, err)
			}
			err = fmt.Errorf("adjust %s by %+d: %w", adj.ref, adj.delta, err)
			if rerr := m.revert(ctx, applied); rerr != nil {
				return &ConsistencyFault{
					Op:           op,
					Kind:         kind,
					Source:       source,
					Target:       target,
					Cause:        err,
					Compensation: rerr,
				}
			}
			return err
		}
		if clamped {
			// Upstream invariant violation: the counter was already below the
			// number of edges. The reconciliation sweep repairs it.
			m.logger.Warn("Counter decrement clamped at zero",
				zap.String("op", op),
				zap.String("counter", adj.ref.String()),
				zap.String("source", source),
				zap.String("target", target))
			clampsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("field", string(adj.ref.Field))))
			continue
		}
		applied = append(applied, adj)
	}
	return nil
}

func (m *CounterMaintainer) revert(ctx context.Context, applied []adjustment) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		adj := applied[i]
		if _, err := m.store.Adjust(ctx, adj.ref, -adj.delta); err != nil {
			errs = append(errs, fmt.Errorf("revert %s: %w", adj.ref, err))
		}
	}
	return errors.Join(errs...)
}
