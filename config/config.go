// Package config provides application configuration management.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/oremus-labs/ol-model-registry/internal/redisx"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	APIToken   string `env:"MODEL_REGISTRY_API_TOKEN"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Persistence
	StatePath       string `env:"STATE_PATH" envDefault:"/app/state"`
	DataStoreDriver string `env:"DATASTORE_DRIVER" envDefault:"sqlite"`
	DataStoreDSN    string `env:"DATASTORE_DSN"`

	// Canonical catalog. An empty path uses the definitions embedded in the
	// binary.
	CatalogPath string `env:"MODEL_CATALOG_PATH"`

	// Reconciliation
	EndpointURLTemplate string        `env:"ENDPOINT_URL_TEMPLATE" envDefault:"http://%s.inference.svc.cluster.local"`
	ProbeTimeout        time.Duration `env:"HEALTH_PROBE_TIMEOUT" envDefault:"5s"`
	ProbeSlowThreshold  time.Duration `env:"HEALTH_PROBE_SLOW_THRESHOLD" envDefault:"2s"`
	ProbeConcurrency    int           `env:"HEALTH_PROBE_CONCURRENCY" envDefault:"10"`
	DetectionDebounce   time.Duration `env:"DETECTION_DEBOUNCE" envDefault:"500ms"`

	// Scheduling + retention
	SchedulerTick      time.Duration `env:"SYNC_SCHEDULER_TICK" envDefault:"30s"`
	RetentionSchedule  string        `env:"RETENTION_SCHEDULE" envDefault:"0 3 * * *"`
	JobRetention       time.Duration `env:"SYNC_JOB_RETENTION" envDefault:"720h"`
	DetectionRetention time.Duration `env:"DETECTION_RETENTION" envDefault:"168h"`

	// Redis / events configuration
	RedisAddr        string `env:"REDIS_ADDR"`
	RedisUsername    string `env:"REDIS_USERNAME"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	RedisDB          int    `env:"REDIS_DB" envDefault:"0"`
	RedisTLSEnabled  bool   `env:"REDIS_TLS_ENABLED" envDefault:"false"`
	RedisTLSInsecure bool   `env:"REDIS_TLS_INSECURE_SKIP_VERIFY" envDefault:"false"`
	EventsChannel    string `env:"EVENTS_CHANNEL" envDefault:"model-registry-events"`
	SyncStream       string `env:"REDIS_SYNC_STREAM" envDefault:"model-registry:sync"`
	SyncGroup        string `env:"REDIS_SYNC_GROUP" envDefault:"sync-workers"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.DataStoreDSN == "" {
		cfg.DataStoreDSN = filepath.Join(cfg.StatePath, "model-registry.db")
	}
	return cfg, nil
}

// Redis maps the Redis settings onto the client config.
func (c *Config) Redis() redisx.Config {
	return redisx.Config{
		Addr:        c.RedisAddr,
		Username:    c.RedisUsername,
		Password:    c.RedisPassword,
		DB:          c.RedisDB,
		TLSEnabled:  c.RedisTLSEnabled,
		TLSInsecure: c.RedisTLSInsecure,
	}
}
