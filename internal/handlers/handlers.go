// Package handlers provides HTTP request handlers for the model registry API.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oremus-labs/ol-model-registry/internal/dashboard"
	"github.com/oremus-labs/ol-model-registry/internal/events"
	"github.com/oremus-labs/ol-model-registry/internal/openapi"
	"github.com/oremus-labs/ol-model-registry/internal/registry"
	"github.com/oremus-labs/ol-model-registry/internal/store"
)

type syncRunner interface {
	Run(ctx context.Context, scope string, trigger registry.TriggerType, actor string) *registry.SyncJob
}

type detector interface {
	Record(ctx context.Context, scope, modelID string, source registry.DetectionSource, hints registry.DetectionHints) (*registry.Detection, error)
}

type dashboardBuilder interface {
	Build(ctx context.Context, scope string) (*dashboard.Snapshot, error)
}

type eventSource interface {
	Subscribe(ctx context.Context) (<-chan events.Event, func(), error)
}

// Handler encapsulates dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	sync   syncRunner
	detect detector
	dash   dashboardBuilder
	bus    eventSource
	logger *zap.Logger
}

// Options configure a Handler.
type Options struct {
	Store     *store.Store
	Sync      syncRunner
	Detector  detector
	Dashboard dashboardBuilder
	EventBus  eventSource
	Logger    *zap.Logger
}

// New creates a new Handler instance.
func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:  opts.Store,
		sync:   opts.Sync,
		detect: opts.Detector,
		dash:   opts.Dashboard,
		bus:    opts.EventBus,
		logger: logger,
	}
}

type triggerSyncRequest struct {
	Scope       string `json:"scope"`
	TriggeredBy string `json:"triggeredBy,omitempty"`
}

type detectRequest struct {
	ModelID string                   `json:"modelId" binding:"required"`
	Source  registry.DetectionSource `json:"source,omitempty"`
	Hints   registry.DetectionHints  `json:"hints,omitempty"`
}

// Health returns the health status of the service.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// OpenAPISpec serves the OpenAPI document as JSON.
func (h *Handler) OpenAPISpec(c *gin.Context) {
	data, err := openapi.JSON()
	if err != nil {
		h.logger.Error("render openapi spec", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render spec"})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

const docsHTML = `<!DOCTYPE html>
<html>
  <head>
    <title>Model Registry API</title>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>body { margin: 0; padding: 0; }</style>
  </head>
  <body>
    <redoc spec-url="/openapi"></redoc>
    <script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
  </body>
</html>`

// APIDocs serves a Redoc viewer backed by the /openapi document.
func (h *Handler) APIDocs(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(docsHTML))
}

// Dashboard returns the sync overview for a scope.
func (h *Handler) Dashboard(c *gin.Context) {
	snap, err := h.dash.Build(c.Request.Context(), c.Query("scope"))
	if err != nil {
		h.logger.Error("build dashboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build dashboard"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// TriggerSync starts a sync run and returns the finalized job.
func (h *Handler) TriggerSync(c *gin.Context) {
	var req triggerSyncRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	actor := req.TriggeredBy
	if actor == "" {
		actor = "api"
	}

	job := h.sync.Run(c.Request.Context(), req.Scope, registry.TriggerManual, actor)
	c.JSON(http.StatusOK, job)
}

// ListJobs returns recent sync jobs for a scope, newest first.
func (h *Handler) ListJobs(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	jobs, err := h.store.ListRecentJobs(c.Request.Context(), c.Query("scope"), limit)
	if err != nil {
		h.logger.Error("list sync jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sync jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob returns one sync job by id.
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.store.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		h.logger.Error("get sync job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sync job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetSyncConfig returns the effective configuration for a scope. Scopes
// without a persisted row report the defaults; reading never creates one.
func (h *Handler) GetSyncConfig(c *gin.Context) {
	scope := c.Query("scope")
	cfg, err := h.store.GetConfig(c.Request.Context(), scope)
	if err != nil {
		h.logger.Error("get sync config", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sync config"})
		return
	}
	if cfg == nil {
		def := registry.DefaultSyncConfig(scope)
		c.JSON(http.StatusOK, def)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateSyncConfig replaces the sync policy for a scope.
func (h *Handler) UpdateSyncConfig(c *gin.Context) {
	var cfg registry.SyncConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cfg.SyncIntervalMinutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "syncIntervalMinutes must be positive"})
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	if err := h.store.UpsertConfig(c.Request.Context(), &cfg); err != nil {
		h.logger.Error("update sync config", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save sync config"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// RecordDetection registers a sighting of an unknown model id.
func (h *Handler) RecordDetection(c *gin.Context) {
	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Source != "" && !validDetectionSource(req.Source) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown detection source"})
		return
	}

	det, err := h.detect.Record(c.Request.Context(), c.Query("scope"), req.ModelID, req.Source, req.Hints)
	if err != nil {
		h.logger.Error("record detection", zap.String("model_id", req.ModelID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record detection"})
		return
	}
	c.JSON(http.StatusAccepted, det)
}

// ListDetections returns detections still awaiting processing.
func (h *Handler) ListDetections(c *gin.Context) {
	dets, err := h.store.ListUnprocessedDetections(c.Request.Context())
	if err != nil {
		h.logger.Error("list detections", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list detections"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"detections": dets})
}

// ListModels returns registry entries, optionally filtered by source,
// status or provider.
func (h *Handler) ListModels(c *gin.Context) {
	filter := store.EntryFilter{
		Source:   registry.ModelSource(c.Query("source")),
		Status:   registry.ModelStatus(c.Query("status")),
		Provider: c.Query("provider"),
	}
	entries, err := h.store.ListEntries(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("list registry entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list models"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": entries})
}

type modelDetail struct {
	registry.Entry
	Endpoints []registry.Endpoint `json:"endpoints"`
}

// GetModel returns one registry entry with its endpoints.
func (h *Handler) GetModel(c *gin.Context) {
	id := c.Param("id")
	entry, err := h.store.GetEntry(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
		return
	}
	if err != nil {
		h.logger.Error("get registry entry", zap.String("model_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load model"})
		return
	}
	eps, err := h.store.ListEndpoints(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list endpoints", zap.String("model_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load model endpoints"})
		return
	}
	c.JSON(http.StatusOK, modelDetail{Entry: *entry, Endpoints: eps})
}

// StreamEvents pushes registry events to the client as server-sent events.
func (h *Handler) StreamEvents(c *gin.Context) {
	if h.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event streaming not configured"})
		return
	}
	ch, cancel, err := h.bus.Subscribe(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to subscribe"})
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		evt, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent(evt.Type, evt)
		return true
	})
}

func validDetectionSource(source registry.DetectionSource) bool {
	switch source {
	case registry.DetectionAPICall, registry.DetectionHealthCheck,
		registry.DetectionProviderSync, registry.DetectionHuggingFace,
		registry.DetectionManual:
		return true
	}
	return false
}
