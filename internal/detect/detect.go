// Package detect records sightings of model ids the registry does not know
// yet and, when auto-discovery is on, schedules the sync run that will
// register them.
package detect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oremus-labs/ol-model-registry/internal/events"
	"github.com/oremus-labs/ol-model-registry/internal/metrics"
	"github.com/oremus-labs/ol-model-registry/internal/registry"
	"github.com/oremus-labs/ol-model-registry/internal/store"
)

// DefaultDebounce is how long the service waits after the last sighting of a
// burst before scheduling a sync.
const DefaultDebounce = 500 * time.Millisecond

// Scheduler starts a new-model sync run for a scope. Implementations may run
// the sync inline or push it onto the worker queue.
type Scheduler interface {
	Schedule(ctx context.Context, scope, modelID string)
}

type eventPublisher interface {
	Publish(context.Context, events.Event) error
}

// Service is the detection intake. Sightings are upserted per model id;
// bursts collapse into a single scheduled sync per scope.
type Service struct {
	store     *store.Store
	scheduler Scheduler
	events    eventPublisher
	logger    *zap.Logger
	debounce  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// Options configure the Service.
type Options struct {
	Store     *store.Store
	Scheduler Scheduler
	EventBus  eventPublisher
	Logger    *zap.Logger
	Debounce  time.Duration
}

// New creates a detection service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Service{
		store:     opts.Store,
		scheduler: opts.Scheduler,
		events:    opts.EventBus,
		logger:    logger,
		debounce:  debounce,
		pending:   make(map[string]*time.Timer),
	}
}

// Record registers a sighting of modelID. Repeat sightings refresh the
// detection's source, hints and last-seen time but never its processing
// outcome. When auto-discovery is enabled for the scope a sync run is
// scheduled after the debounce window.
func (s *Service) Record(ctx context.Context, scope, modelID string, source registry.DetectionSource, hints registry.DetectionHints) (*registry.Detection, error) {
	if modelID == "" {
		return nil, errors.New("model id required")
	}
	if source == "" {
		source = registry.DetectionManual
	}

	det, err := s.store.UpsertDetection(ctx, &registry.Detection{
		ID:      uuid.NewString(),
		ModelID: modelID,
		Source:  source,
		Hints:   hints,
	})
	if err != nil {
		return nil, err
	}
	metrics.ObserveDetection(string(source))

	if s.events != nil {
		_ = s.events.Publish(ctx, events.Event{
			Type: events.TypeDetectionRecorded,
			Data: map[string]interface{}{
				"modelId": modelID,
				"source":  string(source),
			},
		})
	}

	if s.scheduler != nil && s.autoDiscoveryEnabled(ctx, scope) {
		s.scheduleSync(scope, modelID)
	}
	return det, nil
}

// autoDiscoveryEnabled resolves the scope's policy; a missing config row
// falls back to the defaults.
func (s *Service) autoDiscoveryEnabled(ctx context.Context, scope string) bool {
	cfg, err := s.store.GetConfig(ctx, scope)
	if err != nil {
		s.logger.Warn("load sync config for detection", zap.String("scope", scope), zap.Error(err))
		return false
	}
	if cfg == nil {
		return registry.DefaultSyncConfig(scope).AutoDiscoveryEnabled
	}
	return cfg.AutoDiscoveryEnabled
}

// scheduleSync arms (or re-arms) the per-scope debounce timer, so a burst of
// detections causes one sync instead of one per sighting.
func (s *Service) scheduleSync(scope, modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.pending[scope]; ok {
		timer.Reset(s.debounce)
		return
	}
	s.pending[scope] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.pending, scope)
		s.mu.Unlock()
		s.scheduler.Schedule(context.Background(), scope, modelID)
	})
}

// Stop cancels any armed debounce timers.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for scope, timer := range s.pending {
		timer.Stop()
		delete(s.pending, scope)
	}
}
