// Package dashboard assembles the read-only sync overview served to
// operator UIs. Building a snapshot never writes.
package dashboard

import (
	"context"
	"fmt"

	"github.com/oremus-labs/ol-model-registry/internal/registry"
	"github.com/oremus-labs/ol-model-registry/internal/store"
)

const recentJobCount = 10

// Catalog exposes the canonical definition set metadata shown on the
// dashboard.
type Catalog interface {
	Release() string
	Count() int
}

// RegistryStats summarizes the current registry contents.
type RegistryStats struct {
	TotalModels    int                          `json:"totalModels"`
	ModelsBySource map[registry.ModelSource]int `json:"modelsBySource"`
	Endpoints      store.EndpointCounts         `json:"endpoints"`
	CatalogRelease string                       `json:"catalogRelease,omitempty"`
	CatalogModels  int                          `json:"catalogModels,omitempty"`
}

// Snapshot is one consistent view of sync state for a scope.
type Snapshot struct {
	Config            registry.SyncConfig  `json:"config"`
	LastJob           *registry.SyncJob    `json:"lastJob,omitempty"`
	RecentJobs        []registry.SyncJob   `json:"recentJobs"`
	RegistryStats     RegistryStats        `json:"registryStats"`
	PendingDetections []registry.Detection `json:"pendingDetections"`
}

// Service builds dashboard snapshots.
type Service struct {
	store   *store.Store
	catalog Catalog
}

// New creates a dashboard service. catalog may be nil.
func New(s *store.Store, catalog Catalog) *Service {
	return &Service{store: s, catalog: catalog}
}

// Build assembles the snapshot for a scope. A scope without a persisted
// configuration reports the defaults; the read never creates the row.
func (s *Service) Build(ctx context.Context, scope string) (*Snapshot, error) {
	snap := &Snapshot{}

	cfg, err := s.store.GetConfig(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load sync config: %w", err)
	}
	if cfg != nil {
		snap.Config = *cfg
	} else {
		snap.Config = registry.DefaultSyncConfig(scope)
	}

	jobs, err := s.store.ListRecentJobs(ctx, scope, recentJobCount)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	snap.RecentJobs = jobs
	if len(jobs) > 0 {
		snap.LastJob = &jobs[0]
	}

	bySource, err := s.store.CountEntriesBySource(ctx)
	if err != nil {
		return nil, fmt.Errorf("count registry entries: %w", err)
	}
	endpoints, err := s.store.CountEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("count endpoints: %w", err)
	}
	stats := RegistryStats{
		ModelsBySource: bySource,
		Endpoints:      endpoints,
	}
	for _, n := range bySource {
		stats.TotalModels += n
	}
	if s.catalog != nil {
		stats.CatalogRelease = s.catalog.Release()
		stats.CatalogModels = s.catalog.Count()
	}
	snap.RegistryStats = stats

	pending, err := s.store.ListUnprocessedDetections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending detections: %w", err)
	}
	snap.PendingDetections = pending

	return snap, nil
}
