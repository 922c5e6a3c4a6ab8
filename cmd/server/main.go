package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chicify/socialgraph/internal/api"
	"github.com/chicify/socialgraph/internal/backend"
	"github.com/chicify/socialgraph/internal/cache"
	"github.com/chicify/socialgraph/internal/graph"
	"github.com/chicify/socialgraph/pkg/config"
	"github.com/chicify/socialgraph/pkg/logging"
	"github.com/chicify/socialgraph/pkg/telemetry"
)

func main() {
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

	logger := logging.WithService("socialgraph-api")
	logger.Info("Starting social graph API server",
		zap.String("version", telemetry.Version),
		zap.String("backend", cfg.Store.Backend),
		zap.String("locking", cfg.Graph.Locking))

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage backend
	store, err := backend.Open(ctx, cfg, logging.WithComponent("backend"))
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("Failed to close store", zap.Error(err))
		}
	}()

	// Redis is optional; without it signals stay in-process.
	redisClient, err := cache.New(&cfg.Redis, logging.WithComponent("redis"))
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	events := graph.NewBroadcaster(logging.WithComponent("signals"))
	var notifier graph.Notifier = events
	if redisClient != nil {
		notifier = cache.NewPublisher(redisClient, logging.WithComponent("signal-publisher"))
		relay := cache.NewRelay(redisClient, events, logging.WithComponent("signal-relay"))
		go relay.Run(ctx)
	}

	locker, err := backend.NewLocker(&cfg.Graph, redisClient, logger)
	if err != nil {
		logger.Fatal("Failed to create pair locker", zap.Error(err))
	}

	counters := graph.NewCounterMaintainer(store.Store, logging.WithComponent("counters"))
	service := graph.NewService(store.Store, store.Store, counters, notifier, locker,
		backend.ServiceOptions(&cfg.Graph), logging.WithComponent("relationships"))
	views := graph.NewViewBuilder(store.Store, store.Store, cfg.Graph.OperationTimeout, logging.WithComponent("views"))

	if cfg.Reconcile.OnStartup {
		reconciler := graph.NewReconciler(store.Store, store.Store, store.Store,
			backend.ReconcileOptions(&cfg.Reconcile), logging.WithComponent("reconciler"))
		go func() {
			if _, err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Startup reconciliation failed", zap.Error(err))
			}
		}()
	}

	checks := map[string]api.HealthCheck{"store": store.Health}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	api.NewRouter(api.Deps{
		Service: service,
		Views:   views,
		Events:  events,
		Checks:  checks,
	}).SetupRoutes(engine)

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if cfg.Telemetry.PrometheusEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Telemetry.PrometheusPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Metrics server starting", zap.String("address", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown. SSE streams end when the base context is cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.RegisterOnShutdown(cancel)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	cancel()

	logger.Info("Server exited")
}
