// Package graphqlapi serves a read-only GraphQL view of the registry for
// operator tooling that prefers one round trip over several REST calls.
// Mutations stay on the REST surface.
package graphqlapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"

	"github.com/oremus-labs/ol-model-registry/internal/dashboard"
	"github.com/oremus-labs/ol-model-registry/internal/registry"
	"github.com/oremus-labs/ol-model-registry/internal/store"
)

// DashboardProvider builds sync overview snapshots.
type DashboardProvider interface {
	Build(ctx context.Context, scope string) (*dashboard.Snapshot, error)
}

// Config wires the GraphQL schema.
type Config struct {
	Store     *store.Store
	Dashboard DashboardProvider
}

// NewHandler returns an http.Handler that serves /graphql requests.
func NewHandler(cfg Config) (http.Handler, error) {
	builder := schemaBuilder{cfg: cfg}
	schema, err := builder.buildSchema()
	if err != nil {
		return nil, err
	}

	return handler.New(&handler.Config{
		Schema:   schema,
		Pretty:   true,
		GraphiQL: true,
	}), nil
}

type schemaBuilder struct {
	cfg Config
}

func (b schemaBuilder) buildSchema() (*graphql.Schema, error) {
	jsonScalar := graphql.NewScalar(graphql.ScalarConfig{
		Name: "JSON",
		Serialize: func(value interface{}) interface{} {
			return value
		},
	})

	endpointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Endpoint",
		Fields: graphql.Fields{
			"id":                {Type: graphql.NewNonNull(graphql.ID)},
			"modelId":           {Type: graphql.String},
			"type":              {Type: graphql.String},
			"baseUrl":           {Type: graphql.String},
			"path":              {Type: graphql.String},
			"method":            {Type: graphql.String},
			"healthStatus":      {Type: graphql.String},
			"lastHealthCheckAt": {Type: graphql.String},
			"rateLimitRpm":      {Type: graphql.Int},
			"maxConcurrency":    {Type: graphql.Int},
			"timeoutMs":         {Type: graphql.Int},
			"priority":          {Type: graphql.Int},
			"active":            {Type: graphql.Boolean},
		},
	})

	modelType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Model",
		Fields: graphql.Fields{
			"id":               {Type: graphql.NewNonNull(graphql.ID)},
			"source":           {Type: graphql.NewNonNull(graphql.String)},
			"provider":         {Type: graphql.String},
			"family":           {Type: graphql.String},
			"capabilities":     {Type: graphql.NewList(graphql.String)},
			"inputModalities":  {Type: graphql.NewList(graphql.String)},
			"outputModalities": {Type: graphql.NewList(graphql.String)},
			"status":           {Type: graphql.NewNonNull(graphql.String)},
			"priority":         {Type: graphql.Int},
			"fallbackModels":   {Type: graphql.NewList(graphql.String)},
			"syncSource":       {Type: graphql.String},
			"lastSyncedAt":     {Type: graphql.String},
			"createdAt":        {Type: graphql.String},
			"updatedAt":        {Type: graphql.String},
			"endpoints":        {Type: graphql.NewList(endpointType)},
		},
	})

	jobType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SyncJob",
		Fields: graphql.Fields{
			"id":               {Type: graphql.NewNonNull(graphql.ID)},
			"scope":            {Type: graphql.String},
			"trigger":          {Type: graphql.NewNonNull(graphql.String)},
			"triggeredBy":      {Type: graphql.String},
			"status":           {Type: graphql.NewNonNull(graphql.String)},
			"modelsScanned":    {Type: graphql.Int},
			"modelsAdded":      {Type: graphql.Int},
			"modelsUpdated":    {Type: graphql.Int},
			"modelsRemoved":    {Type: graphql.Int},
			"endpointsUpdated": {Type: graphql.Int},
			"errors":           {Type: jsonScalar},
			"warnings":         {Type: jsonScalar},
			"startedAt":        {Type: graphql.String},
			"completedAt":      {Type: graphql.String},
			"durationMs":       {Type: graphql.Int},
		},
	})

	detectionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Detection",
		Fields: graphql.Fields{
			"id":              {Type: graphql.NewNonNull(graphql.ID)},
			"modelId":         {Type: graphql.NewNonNull(graphql.String)},
			"source":          {Type: graphql.NewNonNull(graphql.String)},
			"hints":           {Type: jsonScalar},
			"processed":       {Type: graphql.Boolean},
			"addedToRegistry": {Type: graphql.Boolean},
			"skipReason":      {Type: graphql.String},
			"firstSeenAt":     {Type: graphql.String},
			"lastSeenAt":      {Type: graphql.String},
		},
	})

	statsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RegistryStats",
		Fields: graphql.Fields{
			"totalModels":    {Type: graphql.Int},
			"modelsBySource": {Type: jsonScalar},
			"endpoints":      {Type: jsonScalar},
			"catalogRelease": {Type: graphql.String},
			"catalogModels":  {Type: graphql.Int},
		},
	})

	dashboardType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Dashboard",
		Fields: graphql.Fields{
			"config":            {Type: jsonScalar},
			"lastJob":           {Type: jobType},
			"recentJobs":        {Type: graphql.NewList(jobType)},
			"registryStats":     {Type: statsType},
			"pendingDetections": {Type: graphql.NewList(detectionType)},
		},
	})

	queryFields := graphql.Fields{
		"models": {
			Type: graphql.NewList(modelType),
			Args: graphql.FieldConfigArgument{
				"source":   {Type: graphql.String},
				"status":   {Type: graphql.String},
				"provider": {Type: graphql.String},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Store == nil {
					return []interface{}{}, nil
				}
				filter := store.EntryFilter{}
				if s, ok := p.Args["source"].(string); ok {
					filter.Source = registry.ModelSource(s)
				}
				if s, ok := p.Args["status"].(string); ok {
					filter.Status = registry.ModelStatus(s)
				}
				if s, ok := p.Args["provider"].(string); ok {
					filter.Provider = s
				}
				entries, err := b.cfg.Store.ListEntries(p.Context, filter)
				if err != nil {
					return nil, err
				}
				return mapEntries(entries), nil
			},
		},
		"model": {
			Type: modelType,
			Args: graphql.FieldConfigArgument{
				"id": {Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Store == nil {
					return nil, nil
				}
				id, _ := p.Args["id"].(string)
				entry, err := b.cfg.Store.GetEntry(p.Context, id)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return nil, nil
					}
					return nil, err
				}
				result := mapEntry(*entry)
				endpoints, err := b.cfg.Store.ListEndpoints(p.Context, id)
				if err != nil {
					return nil, err
				}
				result["endpoints"] = mapEndpoints(endpoints)
				return result, nil
			},
		},
		"syncJobs": {
			Type: graphql.NewList(jobType),
			Args: graphql.FieldConfigArgument{
				"scope": {Type: graphql.String},
				"limit": {Type: graphql.Int},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Store == nil {
					return []interface{}{}, nil
				}
				scope, _ := p.Args["scope"].(string)
				limit := 25
				if l, ok := p.Args["limit"].(int); ok && l > 0 {
					limit = l
				}
				jobs, err := b.cfg.Store.ListRecentJobs(p.Context, scope, limit)
				if err != nil {
					return nil, err
				}
				return mapJobs(jobs), nil
			},
		},
		"syncJob": {
			Type: jobType,
			Args: graphql.FieldConfigArgument{
				"id": {Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Store == nil {
					return nil, nil
				}
				id, _ := p.Args["id"].(string)
				job, err := b.cfg.Store.GetJob(p.Context, id)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return mapJob(*job), nil
			},
		},
		"detections": {
			Type: graphql.NewList(detectionType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Store == nil {
					return []interface{}{}, nil
				}
				pending, err := b.cfg.Store.ListUnprocessedDetections(p.Context)
				if err != nil {
					return nil, err
				}
				return mapDetections(pending), nil
			},
		},
		"dashboard": {
			Type: dashboardType,
			Args: graphql.FieldConfigArgument{
				"scope": {Type: graphql.String},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Dashboard == nil {
					return nil, nil
				}
				scope, _ := p.Args["scope"].(string)
				snap, err := b.cfg.Dashboard.Build(p.Context, scope)
				if err != nil {
					return nil, err
				}
				return mapSnapshot(snap), nil
			},
		},
	}

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: queryFields,
		}),
	})
	if err != nil {
		return nil, err
	}
	return &schema, nil
}

func mapEntries(entries []registry.Entry) []interface{} {
	if len(entries) == 0 {
		return []interface{}{}
	}
	result := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		result = append(result, mapEntry(e))
	}
	return result
}

func mapEntry(entry registry.Entry) map[string]interface{} {
	result := map[string]interface{}{
		"id":               entry.ID,
		"source":           string(entry.Source),
		"provider":         entry.Provider,
		"family":           entry.Family,
		"capabilities":     []string(entry.Capabilities),
		"inputModalities":  []string(entry.InputModalities),
		"outputModalities": []string(entry.OutputModalities),
		"status":           string(entry.Status),
		"priority":         entry.Priority,
		"fallbackModels":   []string(entry.FallbackModels),
		"syncSource":       entry.SyncSource,
		"createdAt":        entry.CreatedAt.Format(time.RFC3339),
		"updatedAt":        entry.UpdatedAt.Format(time.RFC3339),
	}
	if entry.LastSyncedAt != nil {
		result["lastSyncedAt"] = entry.LastSyncedAt.Format(time.RFC3339)
	}
	return result
}

func mapEndpoints(endpoints []registry.Endpoint) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(endpoints))
	for _, ep := range endpoints {
		entry := map[string]interface{}{
			"id":             ep.ID,
			"modelId":        ep.ModelID,
			"type":           ep.Type,
			"baseUrl":        ep.BaseURL,
			"path":           ep.Path,
			"method":         ep.Method,
			"healthStatus":   string(ep.HealthStatus),
			"rateLimitRpm":   ep.RateLimitRPM,
			"maxConcurrency": ep.MaxConcurrency,
			"timeoutMs":      ep.TimeoutMS,
			"priority":       ep.Priority,
			"active":         ep.Active,
		}
		if ep.LastHealthCheckAt != nil {
			entry["lastHealthCheckAt"] = ep.LastHealthCheckAt.Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	return out
}

func mapJobs(jobs []registry.SyncJob) []interface{} {
	out := make([]interface{}, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, mapJob(job))
	}
	return out
}

func mapJob(job registry.SyncJob) map[string]interface{} {
	result := map[string]interface{}{
		"id":               job.ID,
		"scope":            job.Scope,
		"trigger":          string(job.Trigger),
		"triggeredBy":      job.TriggeredBy,
		"status":           string(job.Status),
		"modelsScanned":    job.ModelsScanned,
		"modelsAdded":      job.ModelsAdded,
		"modelsUpdated":    job.ModelsUpdated,
		"modelsRemoved":    job.ModelsRemoved,
		"endpointsUpdated": job.EndpointsUpdated,
		"startedAt":        job.StartedAt.Format(time.RFC3339),
		"durationMs":       int(job.DurationMS),
	}
	if len(job.Errors) > 0 {
		result["errors"] = []registry.SyncError(job.Errors)
	}
	if len(job.Warnings) > 0 {
		result["warnings"] = []registry.SyncError(job.Warnings)
	}
	if job.CompletedAt != nil {
		result["completedAt"] = job.CompletedAt.Format(time.RFC3339)
	}
	return result
}

func mapDetections(detections []registry.Detection) []interface{} {
	out := make([]interface{}, 0, len(detections))
	for _, det := range detections {
		out = append(out, mapDetection(det))
	}
	return out
}

func mapDetection(det registry.Detection) map[string]interface{} {
	result := map[string]interface{}{
		"id":              det.ID,
		"modelId":         det.ModelID,
		"source":          string(det.Source),
		"processed":       det.Processed,
		"addedToRegistry": det.AddedToRegistry,
		"skipReason":      det.SkipReason,
		"firstSeenAt":     det.FirstSeenAt.Format(time.RFC3339),
		"lastSeenAt":      det.LastSeenAt.Format(time.RFC3339),
	}
	if !det.Hints.Empty() {
		result["hints"] = det.Hints
	}
	return result
}

func mapSnapshot(snap *dashboard.Snapshot) map[string]interface{} {
	if snap == nil {
		return nil
	}
	stats := map[string]interface{}{
		"totalModels":    snap.RegistryStats.TotalModels,
		"modelsBySource": snap.RegistryStats.ModelsBySource,
		"endpoints":      snap.RegistryStats.Endpoints,
		"catalogRelease": snap.RegistryStats.CatalogRelease,
		"catalogModels":  snap.RegistryStats.CatalogModels,
	}
	result := map[string]interface{}{
		"config":            snap.Config,
		"recentJobs":        mapJobs(snap.RecentJobs),
		"registryStats":     stats,
		"pendingDetections": mapDetections(snap.PendingDetections),
	}
	if snap.LastJob != nil {
		result["lastJob"] = mapJob(*snap.LastJob)
	}
	return result
}

// EncodeGraphQLQuery is a helper for GraphQL testing (form-encoded JSON bodies).
func EncodeGraphQLQuery(query string) string {
	query = strings.TrimSpace(query)
	data, _ := json.Marshal(map[string]string{"query": query})
	return string(data)
}
