package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/oremus-labs/ol-model-registry/internal/handlers"
)

// Options configures the HTTP server wiring.
type Options struct {
	APIToken       string
	GraphQLHandler http.Handler
	Logger         *zap.Logger
}

// Server wraps the Gin engine and associated configuration.
type Server struct {
	engine *gin.Engine
}

// NewServer constructs a Server with all HTTP routes configured. Read
// endpoints are open; everything that mutates sync state sits behind the
// API token when one is configured.
func NewServer(handler *handlers.Handler, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware(), metricsMiddleware(), requestLogger(logger))

	// Health + meta
	engine.GET("/healthz", handler.Health)
	engine.GET("/openapi", handler.OpenAPISpec)
	engine.GET("/docs", handler.APIDocs)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/events", handler.StreamEvents)

	// Registry reads
	engine.GET("/registry/models", handler.ListModels)
	engine.GET("/registry/models/:id", handler.GetModel)

	if opts.GraphQLHandler != nil {
		engine.GET("/graphql", gin.WrapH(opts.GraphQLHandler))
		engine.POST("/graphql", gin.WrapH(opts.GraphQLHandler))
	}

	// Sync reads
	engine.GET("/dashboard", handler.Dashboard)
	engine.GET("/sync/jobs", handler.ListJobs)
	engine.GET("/sync/jobs/:id", handler.GetJob)
	engine.GET("/sync/config", handler.GetSyncConfig)
	engine.GET("/detections", handler.ListDetections)

	protected := engine.Group("/")
	protected.Use(authMiddleware(opts.APIToken))

	protected.POST("/sync/trigger", handler.TriggerSync)
	protected.PUT("/sync/config", handler.UpdateSyncConfig)
	protected.POST("/models/detect", handler.RecordDetection)

	return &Server{engine: engine}
}

// Engine exposes the underlying Gin engine for advanced use (testing, etc.).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// HTTPServer builds the http.Server for the provided address. The caller
// owns ListenAndServe and shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: /events holds its connection open indefinitely.
		IdleTimeout: 60 * time.Second,
	}
}
