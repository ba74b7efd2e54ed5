package syncsvc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oremus-labs/ol-model-registry/internal/events"
	"github.com/oremus-labs/ol-model-registry/internal/health"
	"github.com/oremus-labs/ol-model-registry/internal/reconcile"
	"github.com/oremus-labs/ol-model-registry/internal/registry"
	"github.com/oremus-labs/ol-model-registry/internal/store"
)

type staticCatalog struct {
	defs []registry.ModelDefinition
}

func (c staticCatalog) Definitions() []registry.ModelDefinition { return c.defs }

func (c staticCatalog) Release() string { return "2.3.0" }

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, evt events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

func (b *recordingBus) byType(eventType string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, evt := range b.events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

type stubProfs struct {
	n   int
	err error
}

func (p stubProfs) GenerateProficiencies(context.Context, string) (int, error) {
	return p.n, p.err
}

type countingProfs struct {
	calls int
}

func (p *countingProfs) GenerateProficiencies(context.Context, string) (int, error) {
	p.calls++
	return 1, nil
}

type panickyProfs struct{}

func (panickyProfs) GenerateProficiencies(context.Context, string) (int, error) {
	panic("proficiency backend exploded")
}

type blockingProfs struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProfs) GenerateProficiencies(context.Context, string) (int, error) {
	p.started <- struct{}{}
	<-p.release
	return 0, nil
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

func newTestService(t *testing.T, s *store.Store, bus eventPublisher, profs ProficiencyGenerator) *Service {
	t.Helper()
	rec := reconcile.New(reconcile.Options{
		Store: s,
		Catalog: staticCatalog{defs: []registry.ModelDefinition{
			{ID: "ol-chat-7b", Family: "ol-chat", Capabilities: []string{"chat"}},
		}},
		Prober: health.New(health.Options{Timeout: 2 * time.Second}),
		Events: bus,
	})
	return New(Options{
		Store:         s,
		Reconciler:    rec,
		Proficiencies: profs,
		EventBus:      bus,
	})
}

func seedConfig(t *testing.T, s *store.Store, mutate func(*registry.SyncConfig)) *registry.SyncConfig {
	t.Helper()
	cfg := registry.DefaultSyncConfig("")
	cfg.ID = uuid.NewString()
	if mutate != nil {
		mutate(&cfg)
	}
	if err := s.UpsertConfig(context.Background(), &cfg); err != nil {
		t.Fatalf("UpsertConfig: %v", err)
	}
	return &cfg
}

func TestRunOnEmptyRegistry(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	bus := &recordingBus{}
	svc := newTestService(t, s, bus, nil)
	ctx := context.Background()

	job := svc.Run(ctx, "", registry.TriggerManual, "ops@example.com")

	if job.Status != registry.JobCompleted {
		t.Fatalf("status = %s, want completed (errors: %v)", job.Status, job.Errors)
	}
	if job.ModelsScanned != 1 || job.ModelsAdded != 1 || job.EndpointsUpdated != 1 {
		t.Fatalf("unexpected counters: %+v", job.JobCounters)
	}
	if job.CompletedAt == nil {
		t.Fatal("job missing completion time")
	}
	if want := job.CompletedAt.Sub(job.StartedAt).Milliseconds(); job.DurationMS != want {
		t.Fatalf("DurationMS = %d, want %d", job.DurationMS, want)
	}

	// The registry gained the model with its default endpoint.
	entry, err := s.GetEntry(ctx, "ol-chat-7b")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if entry.Status != registry.StatusActive {
		t.Fatalf("entry status = %s", entry.Status)
	}
	eps, err := s.ListEndpoints(ctx, "ol-chat-7b")
	if err != nil {
		t.Fatalf("ListEndpoints: %v", err)
	}
	if len(eps) != 1 || !eps[0].Active || eps[0].HealthStatus != registry.HealthUnknown {
		t.Fatalf("unexpected endpoints: %+v", eps)
	}

	// The job row was finalized in the store.
	stored, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != registry.JobCompleted || stored.ModelsAdded != 1 || stored.CompletedAt == nil {
		t.Fatalf("stored job not finalized: %+v", stored)
	}

	// First run persisted the default config and its bookkeeping.
	cfg, err := s.GetConfig(ctx, "")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg == nil {
		t.Fatal("default config row was not persisted")
	}
	if !cfg.AutoSyncEnabled || cfg.SyncIntervalMinutes != 60 {
		t.Fatalf("unexpected default config: %+v", cfg)
	}
	if cfg.LastSyncStatus != string(registry.JobCompleted) || cfg.LastSyncAt == nil || cfg.NextSyncAt == nil {
		t.Fatalf("config bookkeeping missing: %+v", cfg)
	}

	if got := len(bus.byType(events.TypeSyncCompleted)); got != 1 {
		t.Fatalf("sync.completed events = %d, want 1", got)
	}
	if got := len(bus.byType(events.TypeModelDiscovered)); got != 1 {
		t.Fatalf("model.discovered events = %d, want 1", got)
	}
}

func TestRunConvergesOnSecondPass(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	svc := newTestService(t, s, nil, nil)
	ctx := context.Background()

	first := svc.Run(ctx, "", registry.TriggerScheduled, "")
	if first.ModelsAdded != 1 {
		t.Fatalf("first run added %d models", first.ModelsAdded)
	}

	second := svc.Run(ctx, "", registry.TriggerScheduled, "")
	if second.ID == first.ID {
		t.Fatal("sequential runs reused a job id")
	}
	if second.Status != registry.JobCompleted {
		t.Fatalf("second run status = %s", second.Status)
	}
	if second.ModelsAdded != 0 || second.ModelsUpdated != 1 || second.EndpointsUpdated != 0 {
		t.Fatalf("second run did not converge: %+v", second.JobCounters)
	}
}

func TestRunPartialOnProviderErrors(t *testing.T) {
	t.Parallel()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)

	s := openTestStore(t)
	ctx := context.Background()
	if err := s.UpsertEntry(ctx, &registry.Entry{
		ID:     "ext-model",
		Source: registry.SourceExternal,
		Status: registry.StatusActive,
	}); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}
	if err := s.CreateEndpoint(ctx, &registry.Endpoint{
		ID:             "ext-ep",
		ModelID:        "ext-model",
		BaseURL:        failing.URL,
		HealthCheckURL: failing.URL,
		HealthStatus:   registry.HealthHealthy,
		Active:         true,
	}); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	svc := newTestService(t, s, nil, nil)
	job := svc.Run(ctx, "", registry.TriggerScheduled, "")

	if job.Status != registry.JobPartial {
		t.Fatalf("status = %s, want partial", job.Status)
	}
	if len(job.Errors) != 1 || job.Errors[0].ErrorType != registry.ErrorConnection {
		t.Fatalf("unexpected errors: %v", job.Errors)
	}
	// The self-hosted phase still completed its work.
	if job.ModelsAdded != 1 {
		t.Fatalf("self-hosted work missing: %+v", job.JobCounters)
	}
	if job.EndpointsUpdated != 2 {
		t.Fatalf("EndpointsUpdated = %d, want 2 (default + health change)", job.EndpointsUpdated)
	}

	cfg, err := s.GetConfig(ctx, "")
	if err != nil || cfg == nil {
		t.Fatalf("GetConfig: cfg=%v err=%v", cfg, err)
	}
	if cfg.LastSyncStatus != string(registry.JobPartial) {
		t.Fatalf("config LastSyncStatus = %q", cfg.LastSyncStatus)
	}
}

func TestRunFailsWhenConfigUnavailable(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	svc := newTestService(t, s, nil, nil)

	// Closing the store makes every statement fail; the run must still
	// return a finalized job instead of an error.
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	job := svc.Run(context.Background(), "", registry.TriggerManual, "")
	if job.Status != registry.JobFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if len(job.Errors) != 1 || job.Errors[0].ErrorType != registry.ErrorUnknown {
		t.Fatalf("unexpected errors: %v", job.Errors)
	}
	if job.CompletedAt == nil || job.DurationMS != job.CompletedAt.Sub(job.StartedAt).Milliseconds() {
		t.Fatalf("job not finalized: %+v", job)
	}
}

func TestRunFailsOnPanickingPhase(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	seedConfig(t, s, func(cfg *registry.SyncConfig) {
		cfg.AutoGenerateProficiencies = true
	})

	svc := newTestService(t, s, nil, panickyProfs{})
	job := svc.Run(context.Background(), "", registry.TriggerManual, "")

	if job.Status != registry.JobFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if len(job.Errors) != 1 || job.Errors[0].ErrorType != registry.ErrorUnknown {
		t.Fatalf("unexpected errors: %v", job.Errors)
	}

	stored, err := s.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != registry.JobFailed {
		t.Fatalf("stored status = %s, want failed", stored.Status)
	}
}

func TestRunProficiencyFailureIsWarning(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	seedConfig(t, s, func(cfg *registry.SyncConfig) {
		cfg.AutoGenerateProficiencies = true
	})

	svc := newTestService(t, s, nil, stubProfs{err: errors.New("scorer offline")})
	job := svc.Run(context.Background(), "", registry.TriggerManual, "")

	if job.Status != registry.JobCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if len(job.Warnings) != 1 || job.ProficienciesGenerated != 0 {
		t.Fatalf("warnings=%v generated=%d", job.Warnings, job.ProficienciesGenerated)
	}
}

func TestRunCountsGeneratedProficiencies(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	seedConfig(t, s, func(cfg *registry.SyncConfig) {
		cfg.AutoGenerateProficiencies = true
	})

	svc := newTestService(t, s, nil, stubProfs{n: 3})
	job := svc.Run(context.Background(), "", registry.TriggerManual, "")

	if job.Status != registry.JobCompleted || job.ProficienciesGenerated != 3 {
		t.Fatalf("status=%s generated=%d", job.Status, job.ProficienciesGenerated)
	}
}

func TestRunSkipsProficienciesWhenNothingAdded(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	seedConfig(t, s, func(cfg *registry.SyncConfig) {
		cfg.AutoGenerateProficiencies = true
	})

	profs := &countingProfs{}
	svc := newTestService(t, s, nil, profs)
	ctx := context.Background()

	svc.Run(ctx, "", registry.TriggerManual, "")
	job := svc.Run(ctx, "", registry.TriggerManual, "")

	if job.ModelsAdded != 0 {
		t.Fatalf("second run added %d models, want 0", job.ModelsAdded)
	}
	if profs.calls != 1 {
		t.Fatalf("generator ran %d times, want 1", profs.calls)
	}
}

func TestRunRespectsPhaseToggles(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	seedConfig(t, s, func(cfg *registry.SyncConfig) {
		cfg.SyncSelfHostedModels = false
		cfg.SyncExternalProviders = false
	})

	svc := newTestService(t, s, nil, nil)
	ctx := context.Background()
	job := svc.Run(ctx, "", registry.TriggerManual, "")

	if job.Status != registry.JobCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.ModelsScanned != 0 || job.ModelsAdded != 0 {
		t.Fatalf("disabled phases still ran: %+v", job.JobCounters)
	}
	if _, err := s.GetEntry(ctx, "ol-chat-7b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("catalog reconciled despite toggle: %v", err)
	}
}

func TestRunSharesConcurrentInvocations(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	seedConfig(t, s, func(cfg *registry.SyncConfig) {
		cfg.AutoGenerateProficiencies = true
	})

	profs := &blockingProfs{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	svc := newTestService(t, s, nil, profs)
	ctx := context.Background()

	results := make(chan *registry.SyncJob, 3)
	go func() {
		results <- svc.Run(ctx, "", registry.TriggerManual, "first")
	}()
	<-profs.started

	// Join two more callers while the first run is still in flight.
	for i := 0; i < 2; i++ {
		go func() {
			results <- svc.Run(ctx, "", registry.TriggerManual, "late")
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(profs.release)

	ids := make(map[string]bool)
	for i := 0; i < 3; i++ {
		job := <-results
		ids[job.ID] = true
	}
	if len(ids) != 1 {
		t.Fatalf("concurrent runs produced %d distinct jobs", len(ids))
	}

	jobs, err := s.ListRecentJobs(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRecentJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("store holds %d jobs, want 1", len(jobs))
	}
}

func TestRunNotifications(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	seedConfig(t, s, func(cfg *registry.SyncConfig) {
		cfg.NotifyOnNewModel = true
		cfg.NotificationEmails = registry.StringList{"ops@example.com"}
	})

	bus := &recordingBus{}
	svc := newTestService(t, s, bus, nil)
	job := svc.Run(context.Background(), "", registry.TriggerManual, "")

	if job.ModelsAdded != 1 {
		t.Fatalf("ModelsAdded = %d", job.ModelsAdded)
	}
	if got := len(bus.byType(events.TypeNotifyNewModel)); got != 1 {
		t.Fatalf("notify.new_model events = %d, want 1", got)
	}

	// A second converged run adds nothing and must not notify again.
	job = svc.Run(context.Background(), "", registry.TriggerManual, "")
	if job.ModelsAdded != 0 {
		t.Fatalf("second run added models: %+v", job.JobCounters)
	}
	if got := len(bus.byType(events.TypeNotifyNewModel)); got != 1 {
		t.Fatalf("converged run re-notified: %d events", got)
	}
}
