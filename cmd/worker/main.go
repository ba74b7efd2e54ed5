// Package main runs the worker that drains queued sync requests from the
// Redis stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/oremus-labs/ol-model-registry/config"
	"github.com/oremus-labs/ol-model-registry/internal/catalog"
	"github.com/oremus-labs/ol-model-registry/internal/events"
	"github.com/oremus-labs/ol-model-registry/internal/health"
	"github.com/oremus-labs/ol-model-registry/internal/logging"
	"github.com/oremus-labs/ol-model-registry/internal/queue"
	"github.com/oremus-labs/ol-model-registry/internal/reconcile"
	"github.com/oremus-labs/ol-model-registry/internal/redisx"
	"github.com/oremus-labs/ol-model-registry/internal/store"
	"github.com/oremus-labs/ol-model-registry/internal/syncsvc"
	"github.com/oremus-labs/ol-model-registry/internal/worker"
)

const workerVersion = "0.2.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting sync worker", zap.String("version", workerVersion))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		logger.Fatal("load catalog", zap.Error(err))
	}

	stateStore, err := store.Open(cfg.DataStoreDSN, cfg.DataStoreDriver)
	if err != nil {
		logger.Fatal("open datastore", zap.Error(err))
	}
	defer stateStore.Close()

	redisClient, err := redisx.NewClient(cfg.Redis())
	if err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}
	if redisClient == nil {
		logger.Fatal("worker requires redis", zap.String("hint", "set REDIS_ADDR"))
	}
	defer redisClient.Close()

	eventBus := events.NewBus(events.Options{
		Client:  redisClient,
		Logger:  logger,
		Channel: cfg.EventsChannel,
	})

	service := syncsvc.New(syncsvc.Options{
		Store: stateStore,
		Reconciler: reconcile.New(reconcile.Options{
			Store:   stateStore,
			Catalog: source,
			Prober: health.New(health.Options{
				Timeout:       cfg.ProbeTimeout,
				SlowThreshold: cfg.ProbeSlowThreshold,
				Logger:        logger,
			}),
			Events:              eventBus,
			Logger:              logger,
			EndpointURLTemplate: cfg.EndpointURLTemplate,
			ProbeConcurrency:    cfg.ProbeConcurrency,
		}),
		EventBus: eventBus,
		Logger:   logger,
	})

	host, _ := os.Hostname()
	consumerName := fmt.Sprintf("%s-%d", host, time.Now().UnixNano())
	runner := worker.New(worker.Options{
		Queue:  queue.NewConsumer(redisClient, cfg.SyncStream, cfg.SyncGroup, consumerName),
		Sync:   service,
		Logger: logger,
	})

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("worker exited cleanly")
}

func loadCatalog(path string) (*catalog.Source, error) {
	if path != "" {
		return catalog.LoadFile(path)
	}
	return catalog.Load()
}
