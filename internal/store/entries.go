package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oremus-labs/ol-model-registry/internal/registry"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = sql.ErrNoRows

// GetEntry loads a registry entry by model id.
func (s *Store) GetEntry(ctx context.Context, id string) (*registry.Entry, error) {
	var entry registry.Entry
	if err := s.q.GetContext(ctx, &entry, `SELECT * FROM registry_entries WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpsertEntry inserts a registry entry or, when the id already exists,
// updates only the canonically-owned fields. Routing priority, fallback
// lists and provider assignments are operator-managed and survive the
// conflict branch untouched.
func (s *Store) UpsertEntry(ctx context.Context, entry *registry.Entry) error {
	if entry.ID == "" {
		return errors.New("entry id required")
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	query := `
	INSERT INTO registry_entries (
		id, source, provider, family, capabilities, input_modalities, output_modalities,
		status, priority, fallback_models, sync_source, last_synced_at, created_at, updated_at
	) VALUES (
		:id, :source, :provider, :family, :capabilities, :input_modalities, :output_modalities,
		:status, :priority, :fallback_models, :sync_source, :last_synced_at, :created_at, :updated_at
	)
	ON CONFLICT(id) DO UPDATE SET
		capabilities = excluded.capabilities,
		input_modalities = excluded.input_modalities,
		output_modalities = excluded.output_modalities,
		status = excluded.status,
		sync_source = excluded.sync_source,
		last_synced_at = excluded.last_synced_at,
		updated_at = excluded.updated_at`
	_, err := s.q.NamedExecContext(ctx, query, entry)
	return err
}

// EntryUpdate is a partial update applied to a registry entry. Nil fields
// are left unchanged.
type EntryUpdate struct {
	Provider         *string
	Family           *string
	Capabilities     *registry.StringList
	InputModalities  *registry.StringList
	OutputModalities *registry.StringList
	Status           *registry.ModelStatus
	Priority         *int
	FallbackModels   *registry.StringList
	SyncSource       *string
	LastSyncedAt     *time.Time
}

// UpdateEntry applies the non-nil fields of upd to one entry.
func (s *Store) UpdateEntry(ctx context.Context, id string, upd EntryUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Provider != nil {
		add("provider", *upd.Provider)
	}
	if upd.Family != nil {
		add("family", *upd.Family)
	}
	if upd.Capabilities != nil {
		add("capabilities", *upd.Capabilities)
	}
	if upd.InputModalities != nil {
		add("input_modalities", *upd.InputModalities)
	}
	if upd.OutputModalities != nil {
		add("output_modalities", *upd.OutputModalities)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Priority != nil {
		add("priority", *upd.Priority)
	}
	if upd.FallbackModels != nil {
		add("fallback_models", *upd.FallbackModels)
	}
	if upd.SyncSource != nil {
		add("sync_source", *upd.SyncSource)
	}
	if upd.LastSyncedAt != nil {
		add("last_synced_at", *upd.LastSyncedAt)
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE registry_entries SET %s WHERE id = ?`, strings.Join(sets, ", "))
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// EntryFilter narrows ListEntries. Zero values match everything.
type EntryFilter struct {
	Source   registry.ModelSource
	Status   registry.ModelStatus
	Provider string
}

// ListEntries returns registry entries matching the filter, highest routing
// priority first.
func (s *Store) ListEntries(ctx context.Context, filter EntryFilter) ([]registry.Entry, error) {
	query := `SELECT * FROM registry_entries`
	var conds []string
	var args []interface{}
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, filter.Provider)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY priority DESC, id"
	var entries []registry.Entry
	if err := s.q.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, err
	}
	return entries, nil
}

// CountEntriesBySource aggregates entry totals per source.
func (s *Store) CountEntriesBySource(ctx context.Context) (map[registry.ModelSource]int, error) {
	rows := []struct {
		Source registry.ModelSource `db:"source"`
		N      int                  `db:"n"`
	}{}
	err := s.q.SelectContext(ctx, &rows, `SELECT source, COUNT(*) AS n FROM registry_entries GROUP BY source`)
	if err != nil {
		return nil, err
	}
	counts := make(map[registry.ModelSource]int, len(rows))
	for _, r := range rows {
		counts[r.Source] = r.N
	}
	return counts, nil
}

// CreateEndpoint inserts a new endpoint record.
func (s *Store) CreateEndpoint(ctx context.Context, ep *registry.Endpoint) error {
	if ep.ID == "" {
		return errors.New("endpoint id required")
	}
	if ep.ModelID == "" {
		return errors.New("endpoint model id required")
	}
	now := time.Now().UTC()
	ep.CreatedAt = now
	ep.UpdatedAt = now
	if ep.HealthStatus == "" {
		ep.HealthStatus = registry.HealthUnknown
	}
	query := `
	INSERT INTO endpoints (
		id, model_id, endpoint_type, base_url, path, method, auth, format,
		rate_limit_rpm, max_concurrency, timeout_ms,
		health_check_url, health_interval_seconds, health_status, last_health_check_at,
		priority, active, created_at, updated_at
	) VALUES (
		:id, :model_id, :endpoint_type, :base_url, :path, :method, :auth, :format,
		:rate_limit_rpm, :max_concurrency, :timeout_ms,
		:health_check_url, :health_interval_seconds, :health_status, :last_health_check_at,
		:priority, :active, :created_at, :updated_at
	)`
	_, err := s.q.NamedExecContext(ctx, query, ep)
	return err
}

// UpdateEndpointHealth records a health classification for one endpoint.
func (s *Store) UpdateEndpointHealth(ctx context.Context, id string, status registry.HealthStatus, checkedAt time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE endpoints SET health_status = ?, last_health_check_at = ?, updated_at = ? WHERE id = ?`,
		status, checkedAt, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchEndpointHealthCheck stamps the probe time without changing status.
func (s *Store) TouchEndpointHealthCheck(ctx context.Context, id string, checkedAt time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE endpoints SET last_health_check_at = ? WHERE id = ?`, checkedAt, id,
	)
	return err
}

// ListEndpoints returns all endpoints owned by one model.
func (s *Store) ListEndpoints(ctx context.Context, modelID string) ([]registry.Endpoint, error) {
	var eps []registry.Endpoint
	err := s.q.SelectContext(ctx, &eps,
		`SELECT * FROM endpoints WHERE model_id = ? ORDER BY priority DESC, created_at`, modelID)
	if err != nil {
		return nil, err
	}
	return eps, nil
}

// ListActiveExternalEndpoints returns every active endpoint whose owning
// entry is externally sourced. This is the probe set for provider
// reconciliation.
func (s *Store) ListActiveExternalEndpoints(ctx context.Context) ([]registry.Endpoint, error) {
	var eps []registry.Endpoint
	err := s.q.SelectContext(ctx, &eps, `
		SELECT e.* FROM endpoints e
		JOIN registry_entries r ON r.id = e.model_id
		WHERE e.active = 1 AND r.source = ?
		ORDER BY e.model_id, e.priority DESC`, registry.SourceExternal)
	if err != nil {
		return nil, err
	}
	return eps, nil
}

// EndpointCounts aggregates endpoint totals for dashboards.
type EndpointCounts struct {
	Total    int                           `json:"total"`
	Active   int                           `json:"active"`
	ByHealth map[registry.HealthStatus]int `json:"byHealth"`
}

// CountEndpoints aggregates endpoint totals and health distribution.
func (s *Store) CountEndpoints(ctx context.Context) (EndpointCounts, error) {
	counts := EndpointCounts{ByHealth: make(map[registry.HealthStatus]int)}
	rows := []struct {
		Health registry.HealthStatus `db:"health_status"`
		Active int                   `db:"active"`
		N      int                   `db:"n"`
	}{}
	err := s.q.SelectContext(ctx, &rows,
		`SELECT health_status, active, COUNT(*) AS n FROM endpoints GROUP BY health_status, active`)
	if err != nil {
		return counts, err
	}
	for _, r := range rows {
		counts.Total += r.N
		if r.Active == 1 {
			counts.Active += r.N
		}
		counts.ByHealth[r.Health] += r.N
	}
	return counts, nil
}
