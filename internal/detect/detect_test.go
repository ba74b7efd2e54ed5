package detect

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oremus-labs/ol-model-registry/internal/registry"
	"github.com/oremus-labs/ol-model-registry/internal/store"
)

type fakeScheduler struct {
	mu    sync.Mutex
	calls []string
	ch    chan string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{ch: make(chan string, 8)}
}

func (f *fakeScheduler) Schedule(_ context.Context, _ string, modelID string) {
	f.mu.Lock()
	f.calls = append(f.calls, modelID)
	f.mu.Unlock()
	f.ch <- modelID
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

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

func TestRecordUpsertsByModelID(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	svc := New(Options{Store: s})
	t.Cleanup(svc.Stop)
	ctx := context.Background()

	first, err := svc.Record(ctx, "", "mystery-model", registry.DetectionAPICall, registry.DetectionHints{})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	second, err := svc.Record(ctx, "", "mystery-model", registry.DetectionHealthCheck, registry.DetectionHints{
		Provider: "openai",
	})
	if err != nil {
		t.Fatalf("Record (repeat): %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("repeat sighting created a new row: %s vs %s", second.ID, first.ID)
	}
	if second.Source != registry.DetectionHealthCheck {
		t.Fatalf("source not refreshed: %s", second.Source)
	}
	if second.Hints.Provider != "openai" {
		t.Fatalf("hints not refreshed: %+v", second.Hints)
	}
	if second.LastSeenAt.Before(first.LastSeenAt) {
		t.Fatalf("lastSeenAt moved backwards: %v -> %v", first.LastSeenAt, second.LastSeenAt)
	}
	if !second.FirstSeenAt.Equal(first.FirstSeenAt) {
		t.Fatalf("firstSeenAt changed: %v -> %v", first.FirstSeenAt, second.FirstSeenAt)
	}
}

func TestRecordPreservesProcessingOutcome(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	svc := New(Options{Store: s})
	t.Cleanup(svc.Stop)
	ctx := context.Background()

	if _, err := svc.Record(ctx, "", "seen-once", registry.DetectionAPICall, registry.DetectionHints{}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	err := s.MarkDetectionProcessed(ctx, "seen-once", store.DetectionOutcome{
		AddedToRegistry: true,
	})
	if err != nil {
		t.Fatalf("MarkDetectionProcessed: %v", err)
	}

	det, err := svc.Record(ctx, "", "seen-once", registry.DetectionProviderSync, registry.DetectionHints{})
	if err != nil {
		t.Fatalf("Record (after processing): %v", err)
	}
	if !det.Processed || !det.AddedToRegistry {
		t.Fatalf("re-detection reset the outcome: %+v", det)
	}

	pending, err := s.ListUnprocessedDetections(ctx)
	if err != nil {
		t.Fatalf("ListUnprocessedDetections: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("processed detection back in the pending queue: %v", pending)
	}
}

func TestRecordRejectsEmptyModelID(t *testing.T) {
	t.Parallel()

	svc := New(Options{Store: openTestStore(t)})
	if _, err := svc.Record(context.Background(), "", "", registry.DetectionAPICall, registry.DetectionHints{}); err == nil {
		t.Fatal("expected error for empty model id")
	}
}

func TestRecordSchedulesSyncByDefault(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	sched := newFakeScheduler()
	svc := New(Options{Store: s, Scheduler: sched, Debounce: 10 * time.Millisecond})
	t.Cleanup(svc.Stop)

	if _, err := svc.Record(context.Background(), "", "fresh-model", registry.DetectionAPICall, registry.DetectionHints{}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	select {
	case <-sched.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("sync was not scheduled")
	}
}

func TestRecordDebouncesBursts(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	sched := newFakeScheduler()
	svc := New(Options{Store: s, Scheduler: sched, Debounce: 150 * time.Millisecond})
	t.Cleanup(svc.Stop)
	ctx := context.Background()

	for _, id := range []string{"burst-1", "burst-2", "burst-3", "burst-4"} {
		if _, err := svc.Record(ctx, "", id, registry.DetectionAPICall, registry.DetectionHints{}); err != nil {
			t.Fatalf("Record %s: %v", id, err)
		}
	}

	select {
	case <-sched.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("sync was not scheduled")
	}
	// Allow any stray timers to fire before counting.
	time.Sleep(300 * time.Millisecond)
	if got := sched.count(); got != 1 {
		t.Fatalf("burst scheduled %d syncs, want 1", got)
	}

	// A later sighting outside the burst schedules again.
	if _, err := svc.Record(ctx, "", "burst-5", registry.DetectionAPICall, registry.DetectionHints{}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	select {
	case <-sched.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up sync was not scheduled")
	}
}

func TestRecordHonorsAutoDiscoveryToggle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	cfg := registry.DefaultSyncConfig("")
	cfg.ID = uuid.NewString()
	cfg.AutoDiscoveryEnabled = false
	if err := s.UpsertConfig(ctx, &cfg); err != nil {
		t.Fatalf("UpsertConfig: %v", err)
	}

	sched := newFakeScheduler()
	svc := New(Options{Store: s, Scheduler: sched, Debounce: 10 * time.Millisecond})
	t.Cleanup(svc.Stop)

	if _, err := svc.Record(ctx, "", "quiet-model", registry.DetectionAPICall, registry.DetectionHints{}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := sched.count(); got != 0 {
		t.Fatalf("sync scheduled despite disabled auto-discovery: %d", got)
	}

	// The detection itself is still recorded for manual review.
	pending, err := s.ListUnprocessedDetections(ctx)
	if err != nil {
		t.Fatalf("ListUnprocessedDetections: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending detections = %d, want 1", len(pending))
	}
}
