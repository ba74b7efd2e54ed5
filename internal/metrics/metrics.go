package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "model_registry_sync_job_duration_seconds",
		Help:    "Duration of sync jobs grouped by trigger and final status",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"trigger", "status"})

	syncJobTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "model_registry_sync_job_total",
		Help: "Total sync jobs grouped by trigger and final status",
	}, []string{"trigger", "status"})

	probeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "model_registry_probe_duration_seconds",
		Help:    "Duration of endpoint health probes grouped by classification",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"status"})

	probeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "model_registry_probe_total",
		Help: "Total endpoint health probes grouped by classification",
	}, []string{"status"})

	detectionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "model_registry_detection_total",
		Help: "Total new-model detections grouped by source",
	}, []string{"source"})

	registryEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "model_registry_entries",
		Help: "Registry entries after the most recent sync, grouped by source",
	}, []string{"source"})
)

// ObserveSyncJob records the duration and outcome of a finalized sync job.
func ObserveSyncJob(trigger, status string, duration time.Duration) {
	if trigger == "" {
		trigger = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	syncJobDuration.WithLabelValues(trigger, status).Observe(duration.Seconds())
	syncJobTotal.WithLabelValues(trigger, status).Inc()
}

// ObserveProbe records one endpoint health probe.
func ObserveProbe(status string, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	probeDuration.WithLabelValues(status).Observe(duration.Seconds())
	probeTotal.WithLabelValues(status).Inc()
}

// ObserveDetection counts a new-model sighting.
func ObserveDetection(source string) {
	if source == "" {
		source = "unknown"
	}
	detectionTotal.WithLabelValues(source).Inc()
}

// SetRegistryEntries publishes the per-source entry totals.
func SetRegistryEntries(counts map[string]int) {
	for source, n := range counts {
		registryEntries.WithLabelValues(source).Set(float64(n))
	}
}
