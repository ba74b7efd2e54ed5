package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/oremus-labs/ol-model-registry/internal/queue"
	"github.com/oremus-labs/ol-model-registry/internal/registry"
	"github.com/oremus-labs/ol-model-registry/internal/syncsvc"
)

// inlineScheduler runs discovery-triggered syncs in-process. Used when no
// Redis stream is configured.
type inlineScheduler struct {
	service *syncsvc.Service
}

func (s *inlineScheduler) Schedule(ctx context.Context, scope, modelID string) {
	s.service.Run(ctx, scope, registry.TriggerNewModel, "auto-discovery")
}

// queueScheduler hands discovery-triggered syncs to the worker tier.
type queueScheduler struct {
	producer *queue.Producer
	logger   *zap.Logger
}

func (s *queueScheduler) Schedule(ctx context.Context, scope, modelID string) {
	err := s.producer.Enqueue(ctx, queue.SyncMessage{
		Scope:       scope,
		Trigger:     registry.TriggerNewModel,
		TriggeredBy: "auto-discovery",
		ModelID:     modelID,
	})
	if err != nil {
		s.logger.Warn("enqueue discovery sync",
			zap.String("scope", scope), zap.String("model_id", modelID), zap.Error(err))
	}
}
