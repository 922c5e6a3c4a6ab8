package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chicify/socialgraph/internal/backend"
	"github.com/chicify/socialgraph/internal/graph"
	"github.com/chicify/socialgraph/pkg/config"
	"github.com/chicify/socialgraph/pkg/logging"
	"github.com/chicify/socialgraph/pkg/telemetry"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit, ignoring reconcile.interval")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.WithService("socialgraph-reconciler")
	logger.Info("Starting counter reconciler",
		zap.String("version", telemetry.Version),
		zap.String("backend", cfg.Store.Backend))

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg, logging.WithComponent("backend"))
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer store.Close(context.Background())

	reconciler := graph.NewReconciler(store.Store, store.Store, store.Store,
		backend.ReconcileOptions(&cfg.Reconcile), logging.WithComponent("reconciler"))

	if *once || cfg.Reconcile.Interval <= 0 {
		if err := sweep(ctx, reconciler); err != nil {
			logger.Error("Reconciliation failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(cfg.Reconcile.Interval)
	defer ticker.Stop()
	for {
		if err := sweep(ctx, reconciler); err != nil {
			logger.Error("Reconciliation failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logger.Info("Reconciler exited")
			return
		case <-ticker.C:
		}
	}
}

// sweep runs one pass; Run logs its own report. Interruption is not a failure.
func sweep(ctx context.Context, reconciler *graph.Reconciler) error {
	if _, err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
