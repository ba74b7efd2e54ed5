package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oremus-labs/ol-model-registry/internal/registry"
)

// GetConfig loads the sync configuration for a scope. A missing row returns
// (nil, nil); callers fall back to registry.DefaultSyncConfig.
func (s *Store) GetConfig(ctx context.Context, scope string) (*registry.SyncConfig, error) {
	var cfg registry.SyncConfig
	err := s.q.GetContext(ctx, &cfg, `SELECT * FROM sync_configs WHERE scope = ?`, scope)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpsertConfig writes the sync configuration for cfg.Scope. On conflict the
// existing row keeps its identity; cfg is refreshed with the persisted id
// and timestamps before returning.
func (s *Store) UpsertConfig(ctx context.Context, cfg *registry.SyncConfig) error {
	if cfg.ID == "" {
		return errors.New("config id required")
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	query := `
	INSERT INTO sync_configs (
		id, scope, auto_sync_enabled, sync_interval_minutes,
		sync_external_providers, sync_self_hosted_models, sync_from_huggingface,
		auto_discovery_enabled, auto_generate_proficiencies,
		notify_on_new_model, notify_on_model_removed, notify_on_sync_failure,
		notification_emails, notification_webhook,
		last_sync_at, last_sync_status, last_sync_duration_ms, next_sync_at,
		created_at, updated_at
	) VALUES (
		:id, :scope, :auto_sync_enabled, :sync_interval_minutes,
		:sync_external_providers, :sync_self_hosted_models, :sync_from_huggingface,
		:auto_discovery_enabled, :auto_generate_proficiencies,
		:notify_on_new_model, :notify_on_model_removed, :notify_on_sync_failure,
		:notification_emails, :notification_webhook,
		:last_sync_at, :last_sync_status, :last_sync_duration_ms, :next_sync_at,
		:created_at, :updated_at
	)
	ON CONFLICT(scope) DO UPDATE SET
		auto_sync_enabled = excluded.auto_sync_enabled,
		sync_interval_minutes = excluded.sync_interval_minutes,
		sync_external_providers = excluded.sync_external_providers,
		sync_self_hosted_models = excluded.sync_self_hosted_models,
		sync_from_huggingface = excluded.sync_from_huggingface,
		auto_discovery_enabled = excluded.auto_discovery_enabled,
		auto_generate_proficiencies = excluded.auto_generate_proficiencies,
		notify_on_new_model = excluded.notify_on_new_model,
		notify_on_model_removed = excluded.notify_on_model_removed,
		notify_on_sync_failure = excluded.notify_on_sync_failure,
		notification_emails = excluded.notification_emails,
		notification_webhook = excluded.notification_webhook,
		updated_at = excluded.updated_at`
	if _, err := s.q.NamedExecContext(ctx, query, cfg); err != nil {
		return err
	}
	return s.q.GetContext(ctx, cfg, `SELECT * FROM sync_configs WHERE scope = ?`, cfg.Scope)
}

// UpdateConfigSyncState records the bookkeeping of a finished sync run. A
// nil nextSyncAt clears the schedule.
func (s *Store) UpdateConfigSyncState(ctx context.Context, id string, lastSyncAt time.Time, status string, durationMS int64, nextSyncAt *time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE sync_configs
		SET last_sync_at = ?, last_sync_status = ?, last_sync_duration_ms = ?, next_sync_at = ?, updated_at = ?
		WHERE id = ?`,
		lastSyncAt, status, durationMS, nextSyncAt, time.Now().UTC(), id,
	)
	return err
}

// ListDueConfigs returns configurations with auto-sync enabled whose next
// scheduled run is due. A config that has never run (no next_sync_at yet)
// counts as due.
func (s *Store) ListDueConfigs(ctx context.Context, now time.Time) ([]registry.SyncConfig, error) {
	var cfgs []registry.SyncConfig
	err := s.q.SelectContext(ctx, &cfgs, `
		SELECT * FROM sync_configs
		WHERE auto_sync_enabled = 1 AND (next_sync_at IS NULL OR next_sync_at <= ?)
		ORDER BY scope`, now)
	if err != nil {
		return nil, err
	}
	return cfgs, nil
}

// CreateJob inserts a new sync job record.
func (s *Store) CreateJob(ctx context.Context, job *registry.SyncJob) error {
	if job.ID == "" {
		return errors.New("job id required")
	}
	if job.Status == "" {
		job.Status = registry.JobRunning
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}
	query := `
	INSERT INTO sync_jobs (
		id, config_id, scope, trigger_type, triggered_by, status,
		models_scanned, models_added, models_updated, models_removed,
		endpoints_updated, proficiencies_generated,
		errors, warnings, started_at, completed_at, duration_ms
	) VALUES (
		:id, :config_id, :scope, :trigger_type, :triggered_by, :status,
		:models_scanned, :models_added, :models_updated, :models_removed,
		:endpoints_updated, :proficiencies_generated,
		:errors, :warnings, :started_at, :completed_at, :duration_ms
	)`
	_, err := s.q.NamedExecContext(ctx, query, job)
	return err
}

// UpdateJob mutates an existing sync job.
func (s *Store) UpdateJob(ctx context.Context, job *registry.SyncJob) error {
	query := `
	UPDATE sync_jobs SET
		config_id = :config_id, status = :status,
		models_scanned = :models_scanned, models_added = :models_added,
		models_updated = :models_updated, models_removed = :models_removed,
		endpoints_updated = :endpoints_updated, proficiencies_generated = :proficiencies_generated,
		errors = :errors, warnings = :warnings,
		completed_at = :completed_at, duration_ms = :duration_ms
	WHERE id = :id`
	_, err := s.q.NamedExecContext(ctx, query, job)
	return err
}

// GetJob loads a sync job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*registry.SyncJob, error) {
	var job registry.SyncJob
	if err := s.q.GetContext(ctx, &job, `SELECT * FROM sync_jobs WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListRecentJobs returns the newest jobs for a scope, newest first.
func (s *Store) ListRecentJobs(ctx context.Context, scope string, limit int) ([]registry.SyncJob, error) {
	if limit <= 0 {
		limit = 10
	}
	var jobs []registry.SyncJob
	err := s.q.SelectContext(ctx, &jobs,
		`SELECT * FROM sync_jobs WHERE scope = ? ORDER BY started_at DESC LIMIT ?`, scope, limit)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// DeleteJobsBefore removes finalized jobs older than the cutoff. Running
// jobs are never swept.
func (s *Store) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM sync_jobs WHERE started_at < ? AND status != ?`, cutoff, registry.JobRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
