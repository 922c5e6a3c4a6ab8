package graph

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ReconcileOptions controls a reconciliation sweep
type ReconcileOptions struct {
	BatchSize     int
	Workers       int
	RatePerSecond float64
}

// ReconcileReport summarizes one sweep
type ReconcileReport struct {
	UsersScanned  int64         `json:"usersScanned"`
	UsersRepaired int64         `json:"usersRepaired"`
	ItemsScanned  int64         `json:"itemsScanned"`
	ItemsRepaired int64         `json:"itemsRepaired"`
	Duration      time.Duration `json:"duration"`
}

// Reconciler recomputes every denormalized counter from the edge store and
// overwrites the ones that drifted.
type Reconciler struct {
	edges    EdgeStore
	counters CounterStore
	entities EntityStore
	opts     ReconcileOptions
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(edges EdgeStore, counters CounterStore, entities EntityStore, opts ReconcileOptions, logger *zap.Logger) *Reconciler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Reconciler{
		edges:    edges,
		counters: counters,
		entities: entities,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, opts.Workers),
		logger:   logger,
	}
}

// Run sweeps all users and then all items.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	start := time.Now()
	report := &ReconcileReport{}

	r.logger.Info("Starting counter reconciliation",
		zap.Int("batchSize", r.opts.BatchSize),
		zap.Int("workers", r.opts.Workers))

	err := r.sweep(ctx, r.entities.ListUserIDs, r.ReconcileUser, &report.UsersScanned, &report.UsersRepaired)
	if err == nil {
		err = r.sweep(ctx, r.entities.ListItemIDs, r.ReconcileItem, &report.ItemsScanned, &report.ItemsRepaired)
	}
	report.Duration = time.Since(start)

	if err != nil {
		r.logger.Error("Counter reconciliation failed", zap.Error(err))
		return report, err
	}
	r.logger.Info("Counter reconciliation finished",
		zap.Int64("usersScanned", report.UsersScanned),
		zap.Int64("usersRepaired", report.UsersRepaired),
		zap.Int64("itemsScanned", report.ItemsScanned),
		zap.Int64("itemsRepaired", report.ItemsRepaired),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (r *Reconciler) sweep(
	ctx context.Context,
	list func(ctx context.Context, after string, limit int) ([]string, error),
	reconcile func(ctx context.Context, id string) (bool, error),
	scanned, repaired *int64,
) error {
	after := ""
	for {
		ids, err := list(ctx, after, r.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Workers)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				if err := r.limiter.Wait(gctx); err != nil {
					return err
				}
				fixed, err := reconcile(gctx, id)
				if err != nil {
					return err
				}
				atomic.AddInt64(scanned, 1)
				if fixed {
					atomic.AddInt64(repaired, 1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		after = ids[len(ids)-1]
	}
}

// ReconcileUser recomputes followersCount and followingCount of one user. It
// reports whether anything was overwritten.
func (r *Reconciler) ReconcileUser(ctx context.Context, id string) (bool, error) {
	u, err := r.entities.GetUser(ctx, id)
	if err != nil || u == nil {
		return false, err
	}
	followers, err := r.edges.CountByTarget(ctx, KindFollow, id)
	if err != nil {
		return false, err
	}
	following, err := r.edges.CountBySource(ctx, KindFollow, id)
	if err != nil {
		return false, err
	}

	a, err := r.repair(ctx, CounterRef{FieldFollowers, id}, u.FollowersCount, followers)
	if err != nil {
		return false, err
	}
	b, err := r.repair(ctx, CounterRef{FieldFollowing, id}, u.FollowingCount, following)
	if err != nil {
		return false, err
	}
	return a || b, nil
}

// ReconcileItem recomputes likesCount of one item
func (r *Reconciler) ReconcileItem(ctx context.Context, id string) (bool, error) {
	it, err := r.entities.GetItem(ctx, id)
	if err != nil || it == nil {
		return false, err
	}
	likes, err := r.edges.CountByTarget(ctx, KindLike, id)
	if err != nil {
		return false, err
	}
	return r.repair(ctx, CounterRef{FieldLikes, id}, it.LikesCount, likes)
}

func (r *Reconciler) repair(ctx context.Context, ref CounterRef, stored, actual int64) (bool, error) {
	if stored == actual {
		return false, nil
	}
	if err := r.counters.Set(ctx, ref, actual); err != nil {
		return false, fmt.Errorf("repair %s: %w", ref, err)
	}
	r.logger.Warn("Repaired drifted counter",
		zap.String("counter", ref.String()),
		zap.Int64("stored", stored),
		zap.Int64("actual", actual))
	repairsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("field", string(ref.Field))))
	return true, nil
}
