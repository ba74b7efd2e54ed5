// Package main is the entry point for the model registry API service.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/oremus-labs/ol-model-registry/config"
	"github.com/oremus-labs/ol-model-registry/internal/api"
	"github.com/oremus-labs/ol-model-registry/internal/catalog"
	"github.com/oremus-labs/ol-model-registry/internal/dashboard"
	"github.com/oremus-labs/ol-model-registry/internal/detect"
	"github.com/oremus-labs/ol-model-registry/internal/events"
	"github.com/oremus-labs/ol-model-registry/internal/graphqlapi"
	"github.com/oremus-labs/ol-model-registry/internal/handlers"
	"github.com/oremus-labs/ol-model-registry/internal/health"
	"github.com/oremus-labs/ol-model-registry/internal/logging"
	"github.com/oremus-labs/ol-model-registry/internal/queue"
	"github.com/oremus-labs/ol-model-registry/internal/reconcile"
	"github.com/oremus-labs/ol-model-registry/internal/redisx"
	"github.com/oremus-labs/ol-model-registry/internal/store"
	"github.com/oremus-labs/ol-model-registry/internal/syncsvc"
)

const (
	version         = "0.2.0"
	shutdownTimeout = 5 * time.Second
)

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

	logger.Info("starting model registry", zap.String("version", version))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		logger.Fatal("load catalog", zap.Error(err))
	}
	logger.Info("catalog loaded",
		zap.String("release", source.Release()), zap.Int("models", source.Count()))

	stateStore, err := store.Open(cfg.DataStoreDSN, cfg.DataStoreDriver)
	if err != nil {
		logger.Fatal("open datastore", zap.Error(err))
	}
	defer stateStore.Close()

	redisClient, err := redisx.NewClient(cfg.Redis())
	if err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	eventBus := events.NewBus(events.Options{
		Client:  redisClient,
		Logger:  logger,
		Channel: cfg.EventsChannel,
	})

	reconciler := reconcile.New(reconcile.Options{
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
	})

	syncService := syncsvc.New(syncsvc.Options{
		Store:      stateStore,
		Reconciler: reconciler,
		EventBus:   eventBus,
		Logger:     logger,
	})

	// Discovery syncs go through the Redis stream when one is configured so
	// the worker tier absorbs them; otherwise they run in-process.
	var scheduler detect.Scheduler
	if redisClient != nil {
		scheduler = &queueScheduler{
			producer: queue.NewProducer(redisClient, cfg.SyncStream),
			logger:   logger,
		}
	} else {
		scheduler = &inlineScheduler{service: syncService}
	}

	detector := detect.New(detect.Options{
		Store:     stateStore,
		Scheduler: scheduler,
		EventBus:  eventBus,
		Logger:    logger,
		Debounce:  cfg.DetectionDebounce,
	})
	defer detector.Stop()

	dashboardService := dashboard.New(stateStore, source)

	h := handlers.New(handlers.Options{
		Store:     stateStore,
		Sync:      syncService,
		Detector:  detector,
		Dashboard: dashboardService,
		EventBus:  eventBus,
		Logger:    logger,
	})

	graphqlHandler, err := graphqlapi.NewHandler(graphqlapi.Config{
		Store:     stateStore,
		Dashboard: dashboardService,
	})
	if err != nil {
		logger.Fatal("build graphql schema", zap.Error(err))
	}

	server := api.NewServer(h, api.Options{
		APIToken:       cfg.APIToken,
		GraphQLHandler: graphqlHandler,
		Logger:         logger,
	})
	srv := server.HTTPServer(":" + cfg.ServerPort)

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func loadCatalog(path string) (*catalog.Source, error) {
	if path != "" {
		return catalog.LoadFile(path)
	}
	return catalog.Load()
}
