// Package main runs the sync scheduler: it fires due scope syncs on a tick
// and sweeps aged jobs and detections on a cron schedule.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/oremus-labs/ol-model-registry/config"
	"github.com/oremus-labs/ol-model-registry/internal/catalog"
	"github.com/oremus-labs/ol-model-registry/internal/events"
	"github.com/oremus-labs/ol-model-registry/internal/health"
	"github.com/oremus-labs/ol-model-registry/internal/logging"
	"github.com/oremus-labs/ol-model-registry/internal/reconcile"
	"github.com/oremus-labs/ol-model-registry/internal/redisx"
	"github.com/oremus-labs/ol-model-registry/internal/registry"
	"github.com/oremus-labs/ol-model-registry/internal/store"
	"github.com/oremus-labs/ol-model-registry/internal/syncsvc"
)

const schedulerVersion = "0.2.0"

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

	logger.Info("starting sync scheduler", zap.String("version", schedulerVersion))

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
	if redisClient != nil {
		defer redisClient.Close()
	}

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

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.RetentionSchedule, func() {
		runRetentionSweep(context.Background(), stateStore, cfg, logger)
	}); err != nil {
		logger.Fatal("invalid retention schedule",
			zap.String("schedule", cfg.RetentionSchedule), zap.Error(err))
	}
	sweeper.Start()
	defer sweeper.Stop()

	// A fresh deployment has no config rows yet. Seed the global scope so
	// the tick loop has something to schedule.
	if existing, err := stateStore.GetConfig(ctx, ""); err != nil {
		logger.Warn("read global sync config", zap.Error(err))
	} else if existing == nil {
		service.Run(ctx, "", registry.TriggerScheduled, "scheduler")
	}

	runTickLoop(ctx, stateStore, service, cfg.SchedulerTick, logger)
	logger.Info("sync scheduler exited cleanly")
}

func runTickLoop(ctx context.Context, s *store.Store, service *syncsvc.Service, tick time.Duration, logger *zap.Logger) {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.ListDueConfigs(ctx, time.Now().UTC())
			if err != nil {
				logger.Warn("list due configs", zap.Error(err))
				continue
			}
			for _, c := range due {
				if ctx.Err() != nil {
					return
				}
				job := service.Run(ctx, c.Scope, registry.TriggerScheduled, "scheduler")
				logger.Info("scheduled sync finished",
					zap.String("scope", c.Scope),
					zap.String("job_id", job.ID),
					zap.String("status", string(job.Status)))
			}
		}
	}
}

func runRetentionSweep(ctx context.Context, s *store.Store, cfg *config.Config, logger *zap.Logger) {
	now := time.Now().UTC()
	if cfg.JobRetention > 0 {
		n, err := s.DeleteJobsBefore(ctx, now.Add(-cfg.JobRetention))
		if err != nil {
			logger.Warn("sweep sync jobs", zap.Error(err))
		} else if n > 0 {
			logger.Info("swept sync jobs", zap.Int64("removed", n))
		}
	}
	if cfg.DetectionRetention > 0 {
		n, err := s.DeleteProcessedDetectionsBefore(ctx, now.Add(-cfg.DetectionRetention))
		if err != nil {
			logger.Warn("sweep detections", zap.Error(err))
		} else if n > 0 {
			logger.Info("swept detections", zap.Int64("removed", n))
		}
	}
}

func loadCatalog(path string) (*catalog.Source, error) {
	if path != "" {
		return catalog.LoadFile(path)
	}
	return catalog.Load()
}
