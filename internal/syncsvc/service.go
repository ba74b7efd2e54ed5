// Package syncsvc orchestrates registry sync runs: it resolves the effective
// configuration, drives the reconciliation phases, keeps the job record
// current and emits the resulting events.
package syncsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/oremus-labs/ol-model-registry/internal/events"
	"github.com/oremus-labs/ol-model-registry/internal/metrics"
	"github.com/oremus-labs/ol-model-registry/internal/reconcile"
	"github.com/oremus-labs/ol-model-registry/internal/registry"
	"github.com/oremus-labs/ol-model-registry/internal/store"
)

// ProficiencyGenerator derives proficiency records for the models of a
// scope. Generation is best-effort; failures downgrade to job warnings.
type ProficiencyGenerator interface {
	GenerateProficiencies(ctx context.Context, scope string) (int, error)
}

type eventPublisher interface {
	Publish(context.Context, events.Event) error
}

// Service runs sync jobs. Concurrent runs for the same scope collapse onto a
// single job via singleflight; distinct scopes run independently.
type Service struct {
	store      *store.Store
	reconciler *reconcile.Reconciler
	profs      ProficiencyGenerator
	events     eventPublisher
	logger     *zap.Logger

	group singleflight.Group
}

// Options configure the Service.
type Options struct {
	Store         *store.Store
	Reconciler    *reconcile.Reconciler
	Proficiencies ProficiencyGenerator
	EventBus      eventPublisher
	Logger        *zap.Logger
}

// New creates a sync service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      opts.Store,
		reconciler: opts.Reconciler,
		profs:      opts.Proficiencies,
		events:     opts.EventBus,
		logger:     logger,
	}
}

// Run executes one sync for the scope and returns the finalized job record.
// Run never returns an error: every failure mode, including a panicking
// phase, finalizes the job instead. Callers racing on the same scope share
// the in-flight run and receive the same job.
func (s *Service) Run(ctx context.Context, scope string, trigger registry.TriggerType, actor string) *registry.SyncJob {
	v, _, _ := s.group.Do(scope, func() (interface{}, error) {
		return s.run(ctx, scope, trigger, actor), nil
	})
	return v.(*registry.SyncJob)
}

func (s *Service) run(ctx context.Context, scope string, trigger registry.TriggerType, actor string) *registry.SyncJob {
	job := &registry.SyncJob{
		ID:          uuid.NewString(),
		Scope:       scope,
		Trigger:     trigger,
		TriggeredBy: actor,
		Status:      registry.JobRunning,
		StartedAt:   time.Now().UTC(),
	}

	cfg, cfgErr := s.effectiveConfig(ctx, scope)
	if cfg != nil {
		job.ConfigID = cfg.ID
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		s.logger.Error("create sync job", zap.String("job_id", job.ID), zap.Error(err))
	}
	s.publish(ctx, events.TypeSyncStarted, map[string]interface{}{
		"jobId":   job.ID,
		"scope":   scope,
		"trigger": string(trigger),
	})

	failed := s.execute(ctx, cfg, cfgErr, scope, job)
	s.finalize(ctx, job, failed)
	s.refreshGauges(ctx)

	if cfg != nil {
		s.recordConfigState(ctx, cfg, job)
		s.notify(ctx, cfg, job)
	}
	s.publish(ctx, events.TypeSyncCompleted, map[string]interface{}{
		"jobId":            job.ID,
		"scope":            scope,
		"status":           string(job.Status),
		"modelsAdded":      job.ModelsAdded,
		"modelsUpdated":    job.ModelsUpdated,
		"endpointsUpdated": job.EndpointsUpdated,
		"durationMs":       job.DurationMS,
	})

	s.logger.Info("sync run finished",
		zap.String("job_id", job.ID),
		zap.String("scope", scope),
		zap.String("trigger", string(trigger)),
		zap.String("status", string(job.Status)),
		zap.Int("models_added", job.ModelsAdded),
		zap.Int("models_updated", job.ModelsUpdated),
		zap.Int("endpoints_updated", job.EndpointsUpdated),
		zap.Int("errors", len(job.Errors)),
		zap.Int64("duration_ms", job.DurationMS),
	)
	return job
}

// execute drives the sync phases in order, folding results into job. It
// reports whether the run failed outright; recoverable per-item failures
// land in job.Errors and downgrade the job to partial instead.
func (s *Service) execute(ctx context.Context, cfg *registry.SyncConfig, cfgErr error, scope string, job *registry.SyncJob) (failed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync run panicked", zap.String("job_id", job.ID), zap.Any("panic", r))
			job.Errors = append(job.Errors, registry.NewSyncError(registry.ErrorUnknown,
				fmt.Sprintf("sync run panicked: %v", r)))
			failed = true
		}
	}()

	if cfgErr != nil {
		job.Errors = append(job.Errors, registry.NewSyncError(registry.ErrorUnknown,
			fmt.Sprintf("resolve sync config: %v", cfgErr)))
		return true
	}

	if cfg.SyncSelfHostedModels {
		stats, err := s.reconciler.ReconcileSelfHosted(ctx, scope)
		s.fold(job, stats)
		if err != nil {
			job.Errors = append(job.Errors, registry.NewSyncError(registry.ErrorUnknown,
				fmt.Sprintf("self-hosted reconciliation: %v", err)))
			return true
		}
		s.persist(ctx, job)
	}

	if cfg.SyncExternalProviders {
		stats, errs, err := s.reconciler.ReconcileExternalProviders(ctx)
		s.fold(job, stats)
		job.Errors = append(job.Errors, errs...)
		if err != nil {
			job.Errors = append(job.Errors, registry.NewSyncError(registry.ErrorUnknown,
				fmt.Sprintf("external provider reconciliation: %v", err)))
			return true
		}
		s.persist(ctx, job)
	}

	if cfg.AutoGenerateProficiencies && job.ModelsAdded > 0 && s.profs != nil {
		n, err := s.profs.GenerateProficiencies(ctx, scope)
		if err != nil {
			s.logger.Warn("proficiency generation failed", zap.String("job_id", job.ID), zap.Error(err))
			job.Warnings = append(job.Warnings, registry.NewSyncError(registry.ErrorUnknown,
				fmt.Sprintf("proficiency generation: %v", err)))
		} else {
			job.ProficienciesGenerated += n
		}
	}
	return false
}

func (s *Service) fold(job *registry.SyncJob, stats reconcile.Stats) {
	job.ModelsScanned += stats.Scanned
	job.ModelsAdded += stats.Added
	job.ModelsUpdated += stats.Updated
	job.EndpointsUpdated += stats.EndpointsUpdated
	job.Warnings = append(job.Warnings, stats.Warnings...)
}

// finalize stamps the terminal status exactly once: failed when a phase blew
// up, partial when recoverable errors were collected, completed otherwise.
func (s *Service) finalize(ctx context.Context, job *registry.SyncJob, failed bool) {
	completed := time.Now().UTC()
	job.CompletedAt = &completed
	job.DurationMS = completed.Sub(job.StartedAt).Milliseconds()
	switch {
	case failed:
		job.Status = registry.JobFailed
	case len(job.Errors) > 0:
		job.Status = registry.JobPartial
	default:
		job.Status = registry.JobCompleted
	}
	s.persist(ctx, job)
	metrics.ObserveSyncJob(string(job.Trigger), string(job.Status), completed.Sub(job.StartedAt))
}

// effectiveConfig loads the scope configuration, persisting the defaults on
// first use so later reads and edits see a real row.
func (s *Service) effectiveConfig(ctx context.Context, scope string) (*registry.SyncConfig, error) {
	cfg, err := s.store.GetConfig(ctx, scope)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	def := registry.DefaultSyncConfig(scope)
	def.ID = uuid.NewString()
	if err := s.store.UpsertConfig(ctx, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (s *Service) recordConfigState(ctx context.Context, cfg *registry.SyncConfig, job *registry.SyncJob) {
	var next *time.Time
	if cfg.AutoSyncEnabled && cfg.SyncIntervalMinutes > 0 {
		at := job.CompletedAt.Add(time.Duration(cfg.SyncIntervalMinutes) * time.Minute)
		next = &at
	}
	err := s.store.UpdateConfigSyncState(ctx, cfg.ID, *job.CompletedAt, string(job.Status), job.DurationMS, next)
	if err != nil {
		s.logger.Error("record config sync state", zap.String("config_id", cfg.ID), zap.Error(err))
	}
}

// notify emits the operator-facing notification events a config opts into.
func (s *Service) notify(ctx context.Context, cfg *registry.SyncConfig, job *registry.SyncJob) {
	if cfg.NotifyOnNewModel && job.ModelsAdded > 0 {
		s.publish(ctx, events.TypeNotifyNewModel, map[string]interface{}{
			"jobId":       job.ID,
			"scope":       job.Scope,
			"modelsAdded": job.ModelsAdded,
			"recipients":  []string(cfg.NotificationEmails),
		})
	}
	if cfg.NotifyOnSyncFailure && job.Status == registry.JobFailed {
		s.publish(ctx, events.TypeNotifySyncFailure, map[string]interface{}{
			"jobId":      job.ID,
			"scope":      job.Scope,
			"errors":     job.Errors,
			"recipients": []string(cfg.NotificationEmails),
		})
	}
}

// refreshGauges re-exports the registry size after a run mutated it.
func (s *Service) refreshGauges(ctx context.Context) {
	counts, err := s.store.CountEntriesBySource(ctx)
	if err != nil {
		return
	}
	bySource := make(map[string]int, len(counts))
	for src, n := range counts {
		bySource[string(src)] = n
	}
	metrics.SetRegistryEntries(bySource)
}

func (s *Service) persist(ctx context.Context, job *registry.SyncJob) {
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.Error("persist sync job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, events.Event{Type: eventType, Data: data})
}
