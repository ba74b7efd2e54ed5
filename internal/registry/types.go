// Package registry defines the domain types shared across the model registry.
package registry

import "time"

// ModelSource identifies where a registry entry is served from.
type ModelSource string

const (
	SourceExternal   ModelSource = "external"
	SourceSelfHosted ModelSource = "self-hosted"
	SourceHybrid     ModelSource = "hybrid"
)

// ModelStatus is the lifecycle state of a registry entry. Entries are never
// deleted; decommissioning is a transition to inactive or deprecated.
type ModelStatus string

const (
	StatusActive     ModelStatus = "active"
	StatusInactive   ModelStatus = "inactive"
	StatusDeprecated ModelStatus = "deprecated"
	StatusPending    ModelStatus = "pending"
)

// HealthStatus is the last classified health of an endpoint.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// TriggerType records what started a sync job.
type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
	TriggerNewModel  TriggerType = "new_model"
	TriggerWebhook   TriggerType = "webhook"
)

// JobStatus represents sync job state. Jobs start running and finalize
// exactly once into one of the terminal states.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobPartial   JobStatus = "partial"
	JobFailed    JobStatus = "failed"
)

// ErrorType buckets recoverable sync failures for reporting.
type ErrorType string

const (
	ErrorConnection ErrorType = "connection"
	ErrorAuth       ErrorType = "auth"
	ErrorFormat     ErrorType = "format"
	ErrorValidation ErrorType = "validation"
	ErrorUnknown    ErrorType = "unknown"
)

// DetectionSource records which surface first reported an unknown model id.
type DetectionSource string

const (
	DetectionAPICall      DetectionSource = "api_call"
	DetectionHealthCheck  DetectionSource = "health_check"
	DetectionProviderSync DetectionSource = "provider_sync"
	DetectionHuggingFace  DetectionSource = "huggingface"
	DetectionManual       DetectionSource = "manual"
)

// ModelDefinition is one canonical self-hosted model as shipped with a
// catalog release. Definitions are immutable inputs to reconciliation.
type ModelDefinition struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"displayName,omitempty"`
	Family           string   `json:"family,omitempty"`
	Capabilities     []string `json:"capabilities,omitempty"`
	InputModalities  []string `json:"inputModalities,omitempty"`
	OutputModalities []string `json:"outputModalities,omitempty"`
}

// Entry is the persisted registry record for one model.
type Entry struct {
	ID               string      `db:"id" json:"id"`
	Source           ModelSource `db:"source" json:"source"`
	Provider         string      `db:"provider" json:"provider,omitempty"`
	Family           string      `db:"family" json:"family,omitempty"`
	Capabilities     StringList  `db:"capabilities" json:"capabilities,omitempty"`
	InputModalities  StringList  `db:"input_modalities" json:"inputModalities,omitempty"`
	OutputModalities StringList  `db:"output_modalities" json:"outputModalities,omitempty"`
	Status           ModelStatus `db:"status" json:"status"`
	Priority         int         `db:"priority" json:"priority"`
	FallbackModels   StringList  `db:"fallback_models" json:"fallbackModels,omitempty"`
	SyncSource       string      `db:"sync_source" json:"syncSource,omitempty"`
	LastSyncedAt     *time.Time  `db:"last_synced_at" json:"lastSyncedAt,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updatedAt"`
}

// Entry routing defaults. Higher priority wins during selection.
const (
	DefaultEntryPriority    = 100
	DefaultEndpointPriority = 1
)

// Endpoint is one callable execution target for a registry entry.
type Endpoint struct {
	ID                 string       `db:"id" json:"id"`
	ModelID            string       `db:"model_id" json:"modelId"`
	Type               string       `db:"endpoint_type" json:"type"`
	BaseURL            string       `db:"base_url" json:"baseUrl"`
	Path               string       `db:"path" json:"path,omitempty"`
	Method             string       `db:"method" json:"method,omitempty"`
	Auth               AuthSpec     `db:"auth" json:"auth"`
	Format             FormatSpec   `db:"format" json:"format"`
	RateLimitRPM       int          `db:"rate_limit_rpm" json:"rateLimitRpm,omitempty"`
	MaxConcurrency     int          `db:"max_concurrency" json:"maxConcurrency,omitempty"`
	TimeoutMS          int          `db:"timeout_ms" json:"timeoutMs,omitempty"`
	HealthCheckURL     string       `db:"health_check_url" json:"healthCheckUrl,omitempty"`
	HealthIntervalSecs int          `db:"health_interval_seconds" json:"healthIntervalSeconds,omitempty"`
	HealthStatus       HealthStatus `db:"health_status" json:"healthStatus"`
	LastHealthCheckAt  *time.Time   `db:"last_health_check_at" json:"lastHealthCheckAt,omitempty"`
	Priority           int          `db:"priority" json:"priority"`
	Active             bool         `db:"active" json:"active"`
	CreatedAt          time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updatedAt"`
}

// AuthSpec describes how requests to an endpoint authenticate. Stored as a
// versioned JSON column; credentials themselves live elsewhere and are
// referenced by name only.
type AuthSpec struct {
	Version       int    `json:"version"`
	Method        string `json:"method,omitempty"` // 'bearer', 'header', 'query', 'none'
	Header        string `json:"header,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	CredentialRef string `json:"credentialRef,omitempty"`
}

// FormatSpec describes the request/response wire dialect of an endpoint.
type FormatSpec struct {
	Version  int    `json:"version"`
	Request  string `json:"request,omitempty"`
	Response string `json:"response,omitempty"`
}

// Current schema versions for JSON column payloads.
const (
	AuthSpecVersion       = 1
	FormatSpecVersion     = 1
	DetectionHintsVersion = 1
)

// SyncConfig is the persisted sync policy for a scope. The empty scope is
// the global configuration.
type SyncConfig struct {
	ID                        string     `db:"id" json:"id"`
	Scope                     string     `db:"scope" json:"scope"`
	AutoSyncEnabled           bool       `db:"auto_sync_enabled" json:"autoSyncEnabled"`
	SyncIntervalMinutes       int        `db:"sync_interval_minutes" json:"syncIntervalMinutes"`
	SyncExternalProviders     bool       `db:"sync_external_providers" json:"syncExternalProviders"`
	SyncSelfHostedModels      bool       `db:"sync_self_hosted_models" json:"syncSelfHostedModels"`
	SyncFromHuggingFace       bool       `db:"sync_from_huggingface" json:"syncFromHuggingFace"`
	AutoDiscoveryEnabled      bool       `db:"auto_discovery_enabled" json:"autoDiscoveryEnabled"`
	AutoGenerateProficiencies bool       `db:"auto_generate_proficiencies" json:"autoGenerateProficiencies"`
	NotifyOnNewModel          bool       `db:"notify_on_new_model" json:"notifyOnNewModel"`
	NotifyOnModelRemoved      bool       `db:"notify_on_model_removed" json:"notifyOnModelRemoved"`
	NotifyOnSyncFailure       bool       `db:"notify_on_sync_failure" json:"notifyOnSyncFailure"`
	NotificationEmails        StringList `db:"notification_emails" json:"notificationEmails,omitempty"`
	NotificationWebhook       string     `db:"notification_webhook" json:"notificationWebhook,omitempty"`
	LastSyncAt                *time.Time `db:"last_sync_at" json:"lastSyncAt,omitempty"`
	LastSyncStatus            string     `db:"last_sync_status" json:"lastSyncStatus,omitempty"`
	LastSyncDurationMS        int64      `db:"last_sync_duration_ms" json:"lastSyncDurationMs,omitempty"`
	NextSyncAt                *time.Time `db:"next_sync_at" json:"nextSyncAt,omitempty"`
	CreatedAt                 time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt                 time.Time  `db:"updated_at" json:"updatedAt"`
}

// DefaultSyncConfig returns the effective configuration used when no row
// exists for a scope. Reads never persist it.
func DefaultSyncConfig(scope string) SyncConfig {
	return SyncConfig{
		Scope:                 scope,
		AutoSyncEnabled:       true,
		SyncIntervalMinutes:   60,
		SyncExternalProviders: true,
		SyncSelfHostedModels:  true,
		AutoDiscoveryEnabled:  true,
	}
}

// JobCounters tracks work performed by a sync job. Counters only move for
// work actually done and freeze once the job finalizes.
type JobCounters struct {
	ModelsScanned          int `db:"models_scanned" json:"modelsScanned"`
	ModelsAdded            int `db:"models_added" json:"modelsAdded"`
	ModelsUpdated          int `db:"models_updated" json:"modelsUpdated"`
	ModelsRemoved          int `db:"models_removed" json:"modelsRemoved"`
	EndpointsUpdated       int `db:"endpoints_updated" json:"endpointsUpdated"`
	ProficienciesGenerated int `db:"proficiencies_generated" json:"proficienciesGenerated"`
}

// SyncJob is one reconciliation run and its outcome.
type SyncJob struct {
	ID          string      `db:"id" json:"id"`
	ConfigID    string      `db:"config_id" json:"configId,omitempty"`
	Scope       string      `db:"scope" json:"scope"`
	Trigger     TriggerType `db:"trigger_type" json:"trigger"`
	TriggeredBy string      `db:"triggered_by" json:"triggeredBy,omitempty"`
	Status      JobStatus   `db:"status" json:"status"`
	JobCounters
	Errors      ErrorList  `db:"errors" json:"errors,omitempty"`
	Warnings    ErrorList  `db:"warnings" json:"warnings,omitempty"`
	StartedAt   time.Time  `db:"started_at" json:"startedAt"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	DurationMS  int64      `db:"duration_ms" json:"durationMs,omitempty"`
}

// SyncError is one recoverable failure recorded against a sync job.
type SyncError struct {
	ErrorType ErrorType `json:"errorType"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSyncError stamps a sync error with the current time.
func NewSyncError(t ErrorType, message string) SyncError {
	return SyncError{ErrorType: t, Message: message, Timestamp: time.Now().UTC()}
}

// Detection is a row in the new-model detection queue, one per model id.
// Re-detections refresh source, hints and lastSeenAt but never reset the
// processing outcome.
type Detection struct {
	ID                     string          `db:"id" json:"id"`
	ModelID                string          `db:"model_id" json:"modelId"`
	Source                 DetectionSource `db:"source" json:"source"`
	Hints                  DetectionHints  `db:"hints" json:"hints"`
	Processed              bool            `db:"processed" json:"processed"`
	AddedToRegistry        bool            `db:"added_to_registry" json:"addedToRegistry"`
	ProficienciesGenerated bool            `db:"proficiencies_generated" json:"proficienciesGenerated"`
	SkipReason             string          `db:"skip_reason" json:"skipReason,omitempty"`
	FirstSeenAt            time.Time       `db:"first_seen_at" json:"firstSeenAt"`
	LastSeenAt             time.Time       `db:"last_seen_at" json:"lastSeenAt"`
}

// DetectionHints carries optional provenance captured at detection time.
type DetectionHints struct {
	Version      int      `json:"version"`
	Provider     string   `json:"provider,omitempty"`
	Family       string   `json:"family,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Empty reports whether the hints carry no information.
func (h DetectionHints) Empty() bool {
	return h.Provider == "" && h.Family == "" && len(h.Capabilities) == 0
}
