// Package metrics pkg/metrics/filesink.go writes the flat-file metrics
// snapshot scraped by file-based sidecars.
package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const (
	// MetricsFileName is the name of the flat-file snapshot inside the
	// metrics directory.
	MetricsFileName = "loki_metrics.prom"

	probeFileName = ".write_probe.tmp"
	dirPerm       = 0o755
	filePerm      = 0o644
)

var errNoWritableDir = errors.New("no writable metrics directory")

// Static liveness block appended to every snapshot so file-based scrapers
// can tell a stale mount from a live monitor.
const availabilityBlock = `# HELP loki_metrics_available Indicates if Loki metrics are available
# TYPE loki_metrics_available gauge
loki_metrics_available 1
`

// FileSink overwrites a single .prom file with the current metric values.
type FileSink struct {
	dir string
}

// NewFileSink creates a FileSink writing into dir. The directory should have
// been resolved with ResolveDir first.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Path returns the full path of the snapshot file.
func (s *FileSink) Path() string {
	return filepath.Join(s.dir, MetricsFileName)
}

// Write renders all gathered metric families in the exposition text format
// and overwrites the snapshot file.
func (s *FileSink) Write(g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer

	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
			return fmt.Errorf("failed to render metrics: %w", err)
		}
	}

	buf.WriteString(availabilityBlock)

	if err := os.WriteFile(s.Path(), buf.Bytes(), filePerm); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// FallbackDir returns the process-local directory used when the configured
// metrics directory is not writable.
func FallbackDir() string {
	return filepath.Join(os.TempDir(), "loki_metrics")
}

// ResolveDir picks a writable metrics directory, trying configured first and
// falling back to fallback. This guards against misconfigured deployments
// without crashing at boot; only both directories failing is a startup
// error.
func ResolveDir(configured, fallback string) (string, error) {
	err := probeDir(configured)
	if err == nil {
		log.Printf("Metrics directory verified: %s", configured)
		return configured, nil
	}

	log.Printf("Cannot write to metrics directory %s: %v", configured, err)

	if err := probeDir(fallback); err != nil {
		return "", fmt.Errorf("%w: %s and %s", errNoWritableDir, configured, fallback)
	}

	log.Printf("Using fallback metrics directory: %s", fallback)

	return fallback, nil
}

// probeDir verifies dir is writable via a trial write-then-delete.
func probeDir(dir string) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	probe := filepath.Join(dir, probeFileName)

	if err := os.WriteFile(probe, []byte("probe"), filePerm); err != nil {
		return err
	}

	return os.Remove(probe)
}
