// Package reconcile diffs the canonical catalog against the persisted
// registry and applies minimal changes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oremus-labs/ol-model-registry/internal/events"
	"github.com/oremus-labs/ol-model-registry/internal/health"
	"github.com/oremus-labs/ol-model-registry/internal/registry"
	"github.com/oremus-labs/ol-model-registry/internal/store"

	"github.com/google/uuid"
)

// DefaultProbeConcurrency bounds the external probe fan-out.
const DefaultProbeConcurrency = 10

// Catalog supplies the canonical definition set.
type Catalog interface {
	Definitions() []registry.ModelDefinition
	Release() string
}

// Prober classifies endpoint health.
type Prober interface {
	Check(ctx context.Context, ep registry.Endpoint) health.Result
}

// Publisher emits registry events. Publishing is best-effort.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Stats counts the work performed by one reconciliation phase. Warnings
// collect non-fatal enrichment failures.
type Stats struct {
	Scanned          int
	Added            int
	Updated          int
	EndpointsUpdated int
	Warnings         registry.ErrorList
}

// Reconciler applies canonical state to the registry store.
type Reconciler struct {
	store            *store.Store
	catalog          Catalog
	prober           Prober
	hooks            Hooks
	events           Publisher
	logger           *zap.Logger
	endpointTemplate string
	probeConcurrency int
}

// Options configure a Reconciler.
type Options struct {
	Store   *store.Store
	Catalog Catalog
	Prober  Prober
	Hooks   Hooks
	Events  Publisher
	Logger  *zap.Logger
	// EndpointURLTemplate builds the default endpoint base URL for new
	// self-hosted entries; %s receives the model id.
	EndpointURLTemplate string
	ProbeConcurrency    int
}

// New builds a Reconciler.
func New(opts Options) *Reconciler {
	r := &Reconciler{
		store:            opts.Store,
		catalog:          opts.Catalog,
		prober:           opts.Prober,
		hooks:            opts.Hooks,
		events:           opts.Events,
		logger:           opts.Logger,
		endpointTemplate: opts.EndpointURLTemplate,
		probeConcurrency: opts.ProbeConcurrency,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.hooks == nil {
		r.hooks = NoopHooks{}
	}
	if r.endpointTemplate == "" {
		r.endpointTemplate = "http://%s.inference.svc.cluster.local"
	}
	if r.probeConcurrency <= 0 {
		r.probeConcurrency = DefaultProbeConcurrency
	}
	return r
}

// ReconcileSelfHosted walks the canonical catalog. Unknown models get a new
// entry plus one default endpoint; known models get their canonical fields
// refreshed while operator-managed routing stays untouched. Running twice
// over an unchanged catalog adds nothing on the second pass.
func (r *Reconciler) ReconcileSelfHosted(ctx context.Context, scope string) (Stats, error) {
	var stats Stats
	syncSource := "catalog@" + r.catalog.Release()
	for _, def := range r.catalog.Definitions() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Scanned++

		_, err := r.store.GetEntry(ctx, def.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := r.createModel(ctx, def, syncSource); err != nil {
				return stats, fmt.Errorf("create %s: %w", def.ID, err)
			}
			stats.Added++
			stats.EndpointsUpdated++
			stats.Warnings = append(stats.Warnings, r.enrichNewModel(ctx, def.ID, scope)...)
			r.publish(ctx, events.TypeModelDiscovered, map[string]interface{}{
				"modelId": def.ID,
				"source":  string(registry.SourceSelfHosted),
			})
		case err != nil:
			return stats, fmt.Errorf("lookup %s: %w", def.ID, err)
		default:
			if err := r.store.UpsertEntry(ctx, canonicalEntry(def, syncSource)); err != nil {
				return stats, fmt.Errorf("update %s: %w", def.ID, err)
			}
			stats.Updated++
		}
	}
	return stats, nil
}

func canonicalEntry(def registry.ModelDefinition, syncSource string) *registry.Entry {
	now := time.Now().UTC()
	return &registry.Entry{
		ID:               def.ID,
		Source:           registry.SourceSelfHosted,
		Family:           def.Family,
		Capabilities:     def.Capabilities,
		InputModalities:  def.InputModalities,
		OutputModalities: def.OutputModalities,
		Status:           registry.StatusActive,
		Priority:         registry.DefaultEntryPriority,
		SyncSource:       syncSource,
		LastSyncedAt:     &now,
	}
}

// createModel inserts the entry and its default endpoint atomically so no
// active self-hosted entry is ever visible without an endpoint.
func (r *Reconciler) createModel(ctx context.Context, def registry.ModelDefinition, syncSource string) error {
	return r.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.UpsertEntry(ctx, canonicalEntry(def, syncSource)); err != nil {
			return err
		}
		return tx.CreateEndpoint(ctx, defaultEndpoint(def, r.endpointTemplate))
	})
}

func defaultEndpoint(def registry.ModelDefinition, template string) *registry.Endpoint {
	epType, path := endpointShape(def.Capabilities)
	return &registry.Endpoint{
		ID:       uuid.NewString(),
		ModelID:  def.ID,
		Type:     epType,
		BaseURL:  fmt.Sprintf(template, def.ID),
		Path:     path,
		Method:   http.MethodPost,
		Auth:     registry.AuthSpec{Version: registry.AuthSpecVersion, Method: "none"},
		Format:   registry.FormatSpec{Version: registry.FormatSpecVersion, Request: "openai", Response: "openai"},
		Priority: registry.DefaultEndpointPriority,
		Active:   true,
		// Health stays unknown until the operator configures a probe URL.
		HealthStatus: registry.HealthUnknown,
	}
}

func endpointShape(capabilities []string) (string, string) {
	for _, c := range capabilities {
		switch c {
		case "embedding":
			return "embedding", "/v1/embeddings"
		case "rerank":
			return "rerank", "/v1/rerank"
		}
	}
	return "chat", "/v1/chat/completions"
}

// enrichNewModel runs the best-effort discovery hooks for a freshly created
// entry. Failures are logged and reported as warnings, never as errors.
func (r *Reconciler) enrichNewModel(ctx context.Context, modelID, scope string) registry.ErrorList {
	var warnings registry.ErrorList

	logID, err := r.hooks.LogDiscovery(ctx, modelID, registry.SourceSelfHosted)
	if err != nil {
		r.logger.Warn("discovery log hook failed", zap.String("model_id", modelID), zap.Error(err))
		warnings = append(warnings, registry.NewSyncError(registry.ErrorUnknown,
			fmt.Sprintf("discovery log for %s: %v", modelID, err)))
	}

	started := time.Now()
	if err := r.hooks.AutoTierModel(ctx, modelID, scope); err != nil {
		r.logger.Warn("auto-tier hook failed", zap.String("model_id", modelID), zap.Error(err))
		warnings = append(warnings, registry.NewSyncError(registry.ErrorUnknown,
			fmt.Sprintf("auto-tier for %s: %v", modelID, err)))
		if logID != "" {
			if ferr := r.hooks.FailDiscovery(ctx, logID, err); ferr != nil {
				r.logger.Warn("discovery fail hook failed", zap.String("model_id", modelID), zap.Error(ferr))
			}
		}
		return warnings
	}
	if logID != "" {
		if err := r.hooks.CompleteDiscovery(ctx, logID, time.Since(started)); err != nil {
			r.logger.Warn("discovery complete hook failed", zap.String("model_id", modelID), zap.Error(err))
		}
	}
	return warnings
}

// ReconcileExternalProviders probes every active endpoint of externally
// sourced entries. Probes run concurrently under a fixed bound; per-endpoint
// failures are collected and never stop the iteration. The returned error is
// reserved for the iteration itself being impossible.
func (r *Reconciler) ReconcileExternalProviders(ctx context.Context) (Stats, registry.ErrorList, error) {
	var stats Stats
	var errs registry.ErrorList

	eps, err := r.store.ListActiveExternalEndpoints(ctx)
	if err != nil {
		return stats, errs, fmt.Errorf("list external endpoints: %w", err)
	}
	if len(eps) == 0 {
		return stats, errs, nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, r.probeConcurrency)
		touched = make(map[string]bool)
	)
	for _, ep := range eps {
		ep := ep
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := r.probeOne(ctx, ep)

			mu.Lock()
			defer mu.Unlock()
			stats.Scanned++
			if outcome.changed {
				stats.EndpointsUpdated++
				touched[ep.ModelID] = true
			}
			if outcome.err.Message != "" {
				errs = append(errs, outcome.err)
			}
		}()
	}
	wg.Wait()

	now := time.Now().UTC()
	syncSource := "health_probe"
	for modelID := range touched {
		upd := store.EntryUpdate{LastSyncedAt: &now, SyncSource: &syncSource}
		if err := r.store.UpdateEntry(ctx, modelID, upd); err != nil {
			errs = append(errs, registry.NewSyncError(registry.ErrorUnknown,
				fmt.Sprintf("record sync state for %s: %v", modelID, err)))
			continue
		}
		stats.Updated++
	}
	return stats, errs, nil
}

type probeOutcome struct {
	changed bool
	err     registry.SyncError
}

func (r *Reconciler) probeOne(ctx context.Context, ep registry.Endpoint) probeOutcome {
	var out probeOutcome
	if ep.HealthCheckURL == "" {
		return out
	}

	res := r.prober.Check(ctx, ep)
	now := time.Now().UTC()

	switch {
	case res.Err != nil:
		out.err = registry.NewSyncError(registry.ErrorConnection,
			fmt.Sprintf("endpoint %s (%s): %v", ep.ID, ep.HealthCheckURL, res.Err))
	case res.Status == registry.HealthUnhealthy:
		out.err = registry.NewSyncError(registry.ErrorConnection,
			fmt.Sprintf("endpoint %s (%s): unhealthy (HTTP %d)", ep.ID, ep.HealthCheckURL, res.HTTPStatus))
	case res.HTTPStatus == http.StatusUnauthorized || res.HTTPStatus == http.StatusForbidden:
		out.err = registry.NewSyncError(registry.ErrorAuth,
			fmt.Sprintf("endpoint %s (%s): credentials rejected (HTTP %d)", ep.ID, ep.HealthCheckURL, res.HTTPStatus))
	}

	if res.Status == ep.HealthStatus {
		if err := r.store.TouchEndpointHealthCheck(ctx, ep.ID, now); err != nil {
			r.logger.Warn("touch health check failed", zap.String("endpoint_id", ep.ID), zap.Error(err))
		}
		return out
	}

	if err := r.store.UpdateEndpointHealth(ctx, ep.ID, res.Status, now); err != nil {
		out.err = registry.NewSyncError(registry.ErrorUnknown,
			fmt.Sprintf("persist health for endpoint %s: %v", ep.ID, err))
		return out
	}
	out.changed = true
	r.publish(ctx, events.TypeEndpointHealthChanged, map[string]interface{}{
		"endpointId": ep.ID,
		"modelId":    ep.ModelID,
		"from":       string(ep.HealthStatus),
		"to":         string(res.Status),
	})
	return out
}

func (r *Reconciler) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if r.events == nil {
		return
	}
	_ = r.events.Publish(ctx, events.Event{Type: eventType, Data: data})
}
