// Package monitor pkg/monitor/monitor.go drives the measure/export/cleanup
// cycle on a fixed interval.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mfreeman451/lokiwatch/pkg/alerts"
	"github.com/mfreeman451/lokiwatch/pkg/db"
	"github.com/mfreeman451/lokiwatch/pkg/loki"
	"github.com/mfreeman451/lokiwatch/pkg/metrics"
	"github.com/mfreeman451/lokiwatch/pkg/scan"
)

const (
	// Grace period after a successful cleanup, letting the backend's async
	// deletion take effect before the next measurement.
	defaultGracePeriod = 60 * time.Second

	// Minimum spacing between cleanup dispatches. Clamped to the poll
	// interval so a failed cleanup can always retry on the next cycle.
	defaultCleanupCooldown = time.Minute

	// History rows older than this are pruned after each recorded cleanup.
	historyRetention = 30 * 24 * time.Hour
)

// Config holds the monitor's immutable settings.
type Config struct {
	DataDir        string
	MaxSizeBytes   int64
	ThresholdBytes int64
	Interval       time.Duration
	GracePeriod    time.Duration
	CleanupQuery   string
}

// Monitor runs the polling loop. A single goroutine drives all cycles;
// cycles are strictly sequential.
type Monitor struct {
	config   Config
	exporter *metrics.Exporter
	cleaner  Cleaner
	history  HistoryStore // optional
	alerters []Alerter    // optional
	limiter  *rate.Limiter

	sizeFn func(string) int64

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Monitor. The exporter and cleaner are required; history and
// alerters are attached with the setters below.
func New(cfg Config, exporter *metrics.Exporter, cleaner Cleaner) *Monitor {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = defaultGracePeriod
	}

	cooldown := defaultCleanupCooldown
	if cfg.Interval > 0 && cfg.Interval < cooldown {
		cooldown = cfg.Interval
	}

	return &Monitor{
		config:   cfg,
		exporter: exporter,
		cleaner:  cleaner,
		limiter:  rate.NewLimiter(rate.Every(cooldown), 1),
		sizeFn:   scan.DirectorySize,
		done:     make(chan struct{}),
	}
}

// SetHistoryStore attaches the cleanup audit store.
func (m *Monitor) SetHistoryStore(store HistoryStore) {
	m.history = store
}

// AddAlerter attaches a threshold alerter.
func (m *Monitor) AddAlerter(alerter Alerter) {
	m.alerters = append(m.alerters, alerter)
}

// Start begins the monitoring loop and blocks until the context is canceled
// or Stop is called. A failed cycle never terminates the loop.
func (m *Monitor) Start(ctx context.Context) error {
	log.Printf("Starting storage monitor for %s (max %.2fGB, threshold %.2fGB, interval %v)",
		m.config.DataDir,
		metrics.BytesToGB(m.config.MaxSizeBytes),
		metrics.BytesToGB(m.config.ThresholdBytes),
		m.config.Interval)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	// Do an initial cycle immediately
	m.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (m *Monitor) Stop(_ context.Context) error {
	m.stopOnce.Do(func() {
		close(m.done)
	})

	return nil
}

// runCycle performs one measure/export/compare pass. Every failure mode
// inside a cycle degrades to a log line; nothing propagates.
func (m *Monitor) runCycle(ctx context.Context) {
	size := m.sizeFn(m.config.DataDir)
	m.exporter.Update(size)

	log.Printf("Current size: %.2fGB (%.1f%%)",
		metrics.BytesToGB(size),
		metrics.UsagePercent(size, m.config.MaxSizeBytes))

	if size <= m.config.ThresholdBytes {
		log.Printf("Storage usage within acceptable limits")
		return
	}

	log.Printf("Storage threshold exceeded: %.2fGB > %.2fGB",
		metrics.BytesToGB(size),
		metrics.BytesToGB(m.config.ThresholdBytes))

	m.handleThresholdExceeded(ctx, size)
}

func (m *Monitor) handleThresholdExceeded(ctx context.Context, size int64) {
	if !m.limiter.Allow() {
		log.Printf("Cleanup suppressed by rate limit")
		return
	}

	triggeredAt := time.Now()
	windowStart, windowEnd := loki.Window(triggeredAt)

	ok := m.cleaner.RunCleanup(ctx)

	m.recordCleanup(triggeredAt, windowStart, windowEnd, ok)
	m.notify(ctx, size, ok)

	if !ok {
		log.Printf("Cleanup failed")
		return
	}

	log.Printf("Cleanup completed successfully")

	// Give the backend time to apply the deletion before measuring again.
	m.sleep(ctx, m.config.GracePeriod)
}

func (m *Monitor) recordCleanup(triggeredAt, windowStart, windowEnd time.Time, success bool) {
	if m.history == nil {
		return
	}

	detail := "completed"
	if !success {
		detail = "failed"
	}

	rec := &db.CleanupRecord{
		TriggeredAt: triggeredAt,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Query:       m.config.CleanupQuery,
		Success:     success,
		Detail:      detail,
	}

	if err := m.history.RecordCleanup(rec); err != nil {
		log.Printf("Failed to record cleanup history: %v", err)
		return
	}

	removed, err := m.history.Prune(triggeredAt.Add(-historyRetention))
	if err != nil {
		log.Printf("Failed to prune cleanup history: %v", err)
		return
	}

	if removed > 0 {
		log.Printf("Pruned %d cleanup history rows", removed)
	}
}

// notify fans the outcome out to the alerters. Delivery failures are logged
// and deliberately discarded.
func (m *Monitor) notify(ctx context.Context, size int64, success bool) {
	if len(m.alerters) == 0 {
		return
	}

	level := alerts.Warning
	title := "Loki storage cleanup triggered"

	if !success {
		level = alerts.Error
		title = "Loki storage cleanup failed"
	}

	alert := &alerts.Alert{
		Level:   level,
		Title:   title,
		Message: fmt.Sprintf("Usage %.2fGB of %.2fGB", metrics.BytesToGB(size), metrics.BytesToGB(m.config.MaxSizeBytes)),
		Details: map[string]any{
			"size_bytes":      size,
			"max_size_bytes":  m.config.MaxSizeBytes,
			"threshold_bytes": m.config.ThresholdBytes,
			"success":         success,
		},
	}

	for _, alerter := range m.alerters {
		if err := alerter.Alert(ctx, alert); err != nil {
			log.Printf("Alert delivery failed: %v", err)
		}
	}
}

// sleep waits for d unless the monitor is stopped first.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-m.done:
	case <-timer.C:
	}
}
