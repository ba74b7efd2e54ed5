// Package health probes endpoint health-check addresses and classifies the
// outcome.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oremus-labs/ol-model-registry/internal/metrics"
	"github.com/oremus-labs/ol-model-registry/internal/registry"
)

const (
	// DefaultTimeout bounds one probe round trip.
	DefaultTimeout = 5 * time.Second
	// DefaultSlowThreshold is the latency above which a 2xx response still
	// counts as degraded.
	DefaultSlowThreshold = 2 * time.Second

	maxBodyBytes = 64 << 10
)

// Monitor issues health probes. Thresholds are fixed at construction.
type Monitor struct {
	client        *http.Client
	timeout       time.Duration
	slowThreshold time.Duration
	logger        *zap.Logger
}

// Options configure a Monitor. Zero values fall back to defaults.
type Options struct {
	Client        *http.Client
	Timeout       time.Duration
	SlowThreshold time.Duration
	Logger        *zap.Logger
}

// New builds a Monitor.
func New(opts Options) *Monitor {
	m := &Monitor{
		client:        opts.Client,
		timeout:       opts.Timeout,
		slowThreshold: opts.SlowThreshold,
		logger:        opts.Logger,
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.slowThreshold <= 0 {
		m.slowThreshold = DefaultSlowThreshold
	}
	if m.client == nil {
		m.client = &http.Client{}
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// Result is one probe outcome. Err is set only for transport failures;
// HTTP-level classifications leave it nil.
type Result struct {
	Status     registry.HealthStatus
	HTTPStatus int
	Latency    time.Duration
	Err        error
}

// Check classifies one endpoint. Endpoints without a health-check address
// keep their last known status; the absence of a probe is not a failure.
func (m *Monitor) Check(ctx context.Context, ep registry.Endpoint) Result {
	if strings.TrimSpace(ep.HealthCheckURL) == "" {
		return Result{Status: ep.HealthStatus}
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.HealthCheckURL, nil)
	if err != nil {
		return m.observe(ep, Result{Status: registry.HealthUnhealthy, Err: err})
	}
	resp, err := m.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		// A responder that times out is alive but slow; one that refuses
		// connections is down.
		status := registry.HealthUnhealthy
		if isTimeout(err) {
			status = registry.HealthDegraded
		}
		return m.observe(ep, Result{Status: status, Latency: latency, Err: err})
	}
	defer resp.Body.Close()

	result := Result{HTTPStatus: resp.StatusCode, Latency: latency}
	switch {
	case resp.StatusCode >= 500:
		result.Status = registry.HealthUnhealthy
	case resp.StatusCode >= 400:
		result.Status = registry.HealthDegraded
	case latency > m.slowThreshold:
		result.Status = registry.HealthDegraded
	default:
		result.Status = classifyBody(resp.Body)
	}
	return m.observe(ep, result)
}

func (m *Monitor) observe(ep registry.Endpoint, result Result) Result {
	metrics.ObserveProbe(string(result.Status), result.Latency)
	if result.Status != registry.HealthHealthy {
		m.logger.Debug("endpoint probe",
			zap.String("endpoint_id", ep.ID),
			zap.String("model_id", ep.ModelID),
			zap.String("status", string(result.Status)),
			zap.Int("http_status", result.HTTPStatus),
			zap.Duration("latency", result.Latency),
			zap.Error(result.Err),
		)
	}
	return result
}

// classifyBody honors explicit status hints in the response payload. Parse
// failures are swallowed; the HTTP-level classification stands.
func classifyBody(r io.Reader) registry.HealthStatus {
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil || len(body) == 0 {
		return registry.HealthHealthy
	}
	var hints struct {
		Status  string `json:"status"`
		Healthy *bool  `json:"healthy"`
	}
	if err := json.Unmarshal(body, &hints); err != nil {
		return registry.HealthHealthy
	}
	if hints.Healthy != nil && !*hints.Healthy {
		return registry.HealthUnhealthy
	}
	switch strings.ToLower(hints.Status) {
	case "unhealthy", "down", "error", "critical":
		return registry.HealthUnhealthy
	case "degraded", "warn", "warning":
		return registry.HealthDegraded
	}
	return registry.HealthHealthy
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
