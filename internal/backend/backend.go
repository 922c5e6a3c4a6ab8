// Package backend opens the graph store and pair locker selected by
// configuration.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chicify/socialgraph/internal/cache"
	"github.com/chicify/socialgraph/internal/db"
	"github.com/chicify/socialgraph/internal/graph"
	"github.com/chicify/socialgraph/internal/mongostore"
	"github.com/chicify/socialgraph/pkg/config"
)

const (
	Postgres = "postgres"
	Mongo    = "mongo"
	Memory   = "memory"
)

// Backend is an opened graph store together with its connection lifecycle
type Backend struct {
	Name  string
	Store graph.Store

	close  func(ctx context.Context) error
	health func(ctx context.Context) error
}

// Open connects to the configured backend. Mongo indexes are created on open;
// Postgres migrates when database.auto_migrate is set.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	switch cfg.Store.Backend {
	case Postgres:
		conn, err := db.New(&cfg.Database, cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Name:   Postgres,
			Store:  db.NewStore(conn.DB),
			close:  func(context.Context) error { return conn.Close() },
			health: conn.Health,
		}, nil

	case Mongo:
		client, err := mongostore.Connect(ctx, &cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		if err := client.EnsureIndexes(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
		return &Backend{
			Name:   Mongo,
			Store:  mongostore.NewStore(client.Database()),
			close:  client.Close,
			health: client.Health,
		}, nil

	case Memory:
		logger.Warn("Using in-memory graph store; state is lost on exit")
		return &Backend{Name: Memory, Store: graph.NewMemStore()}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Close releases the backend connection
func (b *Backend) Close(ctx context.Context) error {
	if b.close == nil {
		return nil
	}
	return b.close(ctx)
}

// Health pings the backend
func (b *Backend) Health(ctx context.Context) error {
	if b.health == nil {
		return nil
	}
	return b.health(ctx)
}

// NewLocker builds the pair locker for cfg.Locking. redis may be nil unless
// the redis locker is selected.
func NewLocker(cfg *config.GraphConfig, redis *cache.Client, logger *zap.Logger) (graph.Locker, error) {
	switch cfg.Locking {
	case "none":
		return graph.NopLocker{}, nil
	case "", "local":
		return graph.NewKeyedMutex(), nil
	case "redis":
		if redis == nil {
			return nil, fmt.Errorf("redis locking requires redis to be enabled")
		}
		return cache.NewLocker(redis, cfg.LockTTL, logger.With(zap.String("component", "pair-lock"))), nil
	default:
		return nil, fmt.Errorf("unknown locking mode %q", cfg.Locking)
	}
}

// ServiceOptions maps configuration onto relationship service options
func ServiceOptions(cfg *config.GraphConfig) graph.Options {
	opts := graph.DefaultOptions()
	opts.CompensationAttempts = cfg.CompensationAttempts
	opts.CompensationBackoff = cfg.CompensationBackoff
	opts.OperationTimeout = cfg.OperationTimeout
	opts.RejectOwnItemLikes = cfg.RejectOwnItemLikes
	return opts
}

// ReconcileOptions maps configuration onto reconciler options
func ReconcileOptions(cfg *config.ReconcileConfig) graph.ReconcileOptions {
	return graph.ReconcileOptions{
		BatchSize:     cfg.BatchSize,
		Workers:       cfg.Workers,
		RatePerSecond: cfg.RatePerSecond,
	}
}
