package reconcile

import (
	"context"
	"time"

	"github.com/oremus-labs/ol-model-registry/internal/registry"
)

// Hooks are the downstream collaborators notified when a model is first
// discovered. Every hook is best-effort: the reconciler logs failures and
// carries on.
type Hooks interface {
	// LogDiscovery records that a model was discovered and returns the log
	// entry id, or "" when nothing was recorded.
	LogDiscovery(ctx context.Context, modelID string, source registry.ModelSource) (string, error)
	// AutoTierModel assigns an initial pricing tier to a new model.
	AutoTierModel(ctx context.Context, modelID, scope string) error
	// CompleteDiscovery closes a discovery log entry as successful.
	CompleteDiscovery(ctx context.Context, logID string, took time.Duration) error
	// FailDiscovery closes a discovery log entry with its failure cause.
	FailDiscovery(ctx context.Context, logID string, cause error) error
}

// NoopHooks satisfies Hooks for deployments without enrichment services.
type NoopHooks struct{}

func (NoopHooks) LogDiscovery(context.Context, string, registry.ModelSource) (string, error) {
	return "", nil
}
func (NoopHooks) AutoTierModel(context.Context, string, string) error { return nil }

func (NoopHooks) CompleteDiscovery(context.Context, string, time.Duration) error { return nil }

func (NoopHooks) FailDiscovery(context.Context, string, error) error { return nil }
