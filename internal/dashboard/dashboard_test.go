package dashboard

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oremus-labs/ol-model-registry/internal/registry"
	"github.com/oremus-labs/ol-model-registry/internal/store"
)

type stubCatalog struct{}

func (stubCatalog) Release() string { return "2.3.0" }

func (stubCatalog) Count() int { return 6 }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "registry.db"), "sqlite")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestBuildOnEmptyStore(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	svc := New(s, stubCatalog{})
	ctx := context.Background()

	snap, err := svc.Build(ctx, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !snap.Config.AutoSyncEnabled || snap.Config.SyncIntervalMinutes != 60 {
		t.Fatalf("expected default config, got %+v", snap.Config)
	}
	if snap.Config.ID != "" {
		t.Fatal("default config should not carry a persisted id")
	}
	if snap.LastJob != nil || len(snap.RecentJobs) != 0 {
		t.Fatalf("expected no job history: %+v", snap)
	}
	if snap.RegistryStats.TotalModels != 0 {
		t.Fatalf("TotalModels = %d", snap.RegistryStats.TotalModels)
	}
	if snap.RegistryStats.CatalogRelease != "2.3.0" || snap.RegistryStats.CatalogModels != 6 {
		t.Fatalf("catalog stats missing: %+v", snap.RegistryStats)
	}

	// Building a snapshot must not have persisted anything.
	cfg, err := s.GetConfig(ctx, "")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg != nil {
		t.Fatal("dashboard read persisted a config row")
	}
}

func TestBuildAggregates(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	svc := New(s, nil)
	ctx := context.Background()

	for i, src := range []registry.ModelSource{
		registry.SourceSelfHosted, registry.SourceSelfHosted, registry.SourceExternal,
	} {
		err := s.UpsertEntry(ctx, &registry.Entry{
			ID:     fmt.Sprintf("model-%d", i),
			Source: src,
			Status: registry.StatusActive,
		})
		if err != nil {
			t.Fatalf("UpsertEntry: %v", err)
		}
	}
	err := s.CreateEndpoint(ctx, &registry.Endpoint{
		ID:           "ep-1",
		ModelID:      "model-0",
		BaseURL:      "http://model-0.models.internal",
		HealthStatus: registry.HealthHealthy,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	cfg := registry.DefaultSyncConfig("")
	cfg.ID = uuid.NewString()
	cfg.SyncIntervalMinutes = 30
	if err := s.UpsertConfig(ctx, &cfg); err != nil {
		t.Fatalf("UpsertConfig: %v", err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 12; i++ {
		job := &registry.SyncJob{
			ID:        fmt.Sprintf("job-%02d", i),
			ConfigID:  cfg.ID,
			Scope:     "",
			Trigger:   registry.TriggerScheduled,
			Status:    registry.JobCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	svcDetect := func(modelID string, processed bool) {
		det, err := s.UpsertDetection(ctx, &registry.Detection{
			ID:      uuid.NewString(),
			ModelID: modelID,
			Source:  registry.DetectionAPICall,
		})
		if err != nil {
			t.Fatalf("UpsertDetection: %v", err)
		}
		if processed {
			if err := s.MarkDetectionProcessed(ctx, det.ModelID, store.DetectionOutcome{SkipReason: "duplicate"}); err != nil {
				t.Fatalf("MarkDetectionProcessed: %v", err)
			}
		}
	}
	svcDetect("pending-model", false)
	svcDetect("done-model", true)

	snap, err := svc.Build(ctx, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if snap.Config.ID != cfg.ID || snap.Config.SyncIntervalMinutes != 30 {
		t.Fatalf("persisted config not returned: %+v", snap.Config)
	}
	if len(snap.RecentJobs) != 10 {
		t.Fatalf("RecentJobs = %d, want 10", len(snap.RecentJobs))
	}
	if snap.LastJob == nil || snap.LastJob.ID != "job-11" {
		t.Fatalf("LastJob = %+v, want job-11", snap.LastJob)
	}
	if snap.RecentJobs[0].ID != "job-11" || snap.RecentJobs[9].ID != "job-02" {
		t.Fatalf("job ordering wrong: first=%s last=%s", snap.RecentJobs[0].ID, snap.RecentJobs[9].ID)
	}

	stats := snap.RegistryStats
	if stats.TotalModels != 3 {
		t.Fatalf("TotalModels = %d, want 3", stats.TotalModels)
	}
	if stats.ModelsBySource[registry.SourceSelfHosted] != 2 || stats.ModelsBySource[registry.SourceExternal] != 1 {
		t.Fatalf("ModelsBySource = %v", stats.ModelsBySource)
	}
	if stats.Endpoints.Total != 1 || stats.Endpoints.Active != 1 {
		t.Fatalf("Endpoints = %+v", stats.Endpoints)
	}
	if stats.CatalogRelease != "" {
		t.Fatalf("catalog stats without a catalog: %+v", stats)
	}

	if len(snap.PendingDetections) != 1 || snap.PendingDetections[0].ModelID != "pending-model" {
		t.Fatalf("PendingDetections = %+v", snap.PendingDetections)
	}
}
