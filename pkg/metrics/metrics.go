// Package metrics pkg/metrics/metrics.go maintains the monitor's gauges and
// counters and renders them to the exposition endpoint and the file sink.
package metrics

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a point-in-time copy of the exported metric values, served by
// the status API.
type Snapshot struct {
	SizeBytes         int64     `json:"size_bytes"`
	SizeGB            float64   `json:"size_gb"`
	MaxSizeBytes      int64     `json:"max_size_bytes"`
	UsagePercent      float64   `json:"usage_percent"`
	CleanupOperations int64     `json:"cleanup_operations"`
	CleanupErrors     int64     `json:"cleanup_errors"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Exporter owns the monitor's metric state. It is written once per poll
// cycle and read concurrently by the exposition endpoint and the status API.
type Exporter struct {
	registry *prometheus.Registry

	dataSizeBytes prometheus.Gauge
	dataSizeGB    prometheus.Gauge
	maxSizeBytes  prometheus.Gauge
	usagePercent  prometheus.Gauge
	cleanupOps    prometheus.Counter
	cleanupErrors prometheus.Counter

	sink *FileSink

	mu       sync.RWMutex
	maxBytes int64
	last     Snapshot
	opsCount int64
	errCount int64
}

// NewExporter creates an Exporter for the given size limit. sink may be nil
// to disable the file sink.
func NewExporter(maxSizeBytes int64, sink *FileSink) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		dataSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loki_data_size_bytes",
			Help: "Total size of Loki data in bytes",
		}),
		dataSizeGB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loki_data_size_gb",
			Help: "Total size of Loki data in GB",
		}),
		maxSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loki_max_size_bytes",
			Help: "Maximum allowed size of Loki data in bytes",
		}),
		usagePercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loki_usage_percent",
			Help: "Current usage percentage of Loki data",
		}),
		cleanupOps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loki_cleanup_operations_total",
			Help: "Total cleanup operations performed",
		}),
		cleanupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loki_cleanup_errors_total",
			Help: "Total cleanup errors",
		}),
		sink:     sink,
		maxBytes: maxSizeBytes,
	}

	e.registry.MustRegister(
		e.dataSizeBytes,
		e.dataSizeGB,
		e.maxSizeBytes,
		e.usagePercent,
		e.cleanupOps,
		e.cleanupErrors,
	)

	e.maxSizeBytes.Set(float64(maxSizeBytes))

	return e
}

// Registry exposes the underlying registry for the exposition handler and
// the file sink.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Update recomputes the derived gauges from a fresh size measurement and
// rewrites the file sink. File write failures are logged and never
// propagated; endpoint visibility must survive filesystem errors.
func (e *Exporter) Update(sizeBytes int64) {
	sizeGB := BytesToGB(sizeBytes)
	percent := UsagePercent(sizeBytes, e.maxBytes)

	e.mu.Lock()
	e.dataSizeBytes.Set(float64(sizeBytes))
	e.dataSizeGB.Set(sizeGB)
	e.maxSizeBytes.Set(float64(e.maxBytes))
	e.usagePercent.Set(percent)

	e.last = Snapshot{
		SizeBytes:         sizeBytes,
		SizeGB:            sizeGB,
		MaxSizeBytes:      e.maxBytes,
		UsagePercent:      percent,
		CleanupOperations: e.opsCount,
		CleanupErrors:     e.errCount,
		UpdatedAt:         time.Now(),
	}
	e.mu.Unlock()

	if e.sink != nil {
		if err := e.sink.Write(e.registry); err != nil {
			log.Printf("Error saving metrics file: %v", err)
		}
	}
}

// IncCleanupOperations counts a successful cleanup operation.
func (e *Exporter) IncCleanupOperations() {
	e.cleanupOps.Inc()

	e.mu.Lock()
	e.opsCount++
	e.last.CleanupOperations = e.opsCount
	e.mu.Unlock()
}

// IncCleanupErrors counts a failed cleanup operation.
func (e *Exporter) IncCleanupErrors() {
	e.cleanupErrors.Inc()

	e.mu.Lock()
	e.errCount++
	e.last.CleanupErrors = e.errCount
	e.mu.Unlock()
}

// Snapshot returns a copy of the latest exported values.
func (e *Exporter) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.last
}

const bytesPerGB = 1 << 30

// BytesToGB converts bytes to gigabytes, rounded to two decimals.
func BytesToGB(bytes int64) float64 {
	return math.Round(float64(bytes)/float64(bytesPerGB)*100) / 100
}

// UsagePercent computes usage as a percentage of maxBytes, 0 when maxBytes
// is 0.
func UsagePercent(sizeBytes, maxBytes int64) float64 {
	if maxBytes <= 0 {
		return 0
	}

	return float64(sizeBytes) / float64(maxBytes) * 100
}
