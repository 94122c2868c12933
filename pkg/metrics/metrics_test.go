package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, families map[string]*dto.MetricFamily, name string) float64 {
	t.Helper()

	family, ok := families[name]
	require.True(t, ok, "metric %s not found", name)
	require.Len(t, family.GetMetric(), 1)

	return family.GetMetric()[0].GetGauge().GetValue()
}

func counterValue(t *testing.T, families map[string]*dto.MetricFamily, name string) float64 {
	t.Helper()

	family, ok := families[name]
	require.True(t, ok, "metric %s not found", name)
	require.Len(t, family.GetMetric(), 1)

	return family.GetMetric()[0].GetCounter().GetValue()
}

func TestBytesToGB(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  float64
	}{
		{name: "zero", bytes: 0, want: 0},
		{name: "one gigabyte", bytes: 1 << 30, want: 1},
		{name: "rounds to two decimals", bytes: 900 * 1024 * 1024, want: 0.88},
		{name: "five gigabytes", bytes: 5 << 30, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, BytesToGB(tt.bytes), 0.001)
		})
	}
}

func TestUsagePercent(t *testing.T) {
	assert.InDelta(t, 90.0, UsagePercent(900, 1000), 0.001)
	assert.InDelta(t, 0.0, UsagePercent(0, 1000), 0.001)

	// No division-by-zero fault when no limit is configured.
	assert.InDelta(t, 0.0, UsagePercent(500, 0), 0.001)
	assert.InDelta(t, 0.0, UsagePercent(500, -1), 0.001)
}

func TestExporter_Update(t *testing.T) {
	maxSize := int64(1 << 30)
	exporter := NewExporter(maxSize, nil)

	size := int64(900 * 1024 * 1024)
	exporter.Update(size)

	snap := exporter.Snapshot()
	assert.Equal(t, size, snap.SizeBytes)
	assert.InDelta(t, 0.88, snap.SizeGB, 0.001)
	assert.Equal(t, maxSize, snap.MaxSizeBytes)
	assert.InDelta(t, float64(size)/float64(maxSize)*100, snap.UsagePercent, 0.001)
	assert.Zero(t, snap.CleanupOperations)
	assert.Zero(t, snap.CleanupErrors)
	assert.False(t, snap.UpdatedAt.IsZero())

	families, err := exporter.Registry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}

	assert.InDelta(t, float64(size), gaugeValue(t, byName, "loki_data_size_bytes"), 0.001)
	assert.InDelta(t, float64(maxSize), gaugeValue(t, byName, "loki_max_size_bytes"), 0.001)
	assert.InDelta(t, snap.UsagePercent, gaugeValue(t, byName, "loki_usage_percent"), 0.001)
}

func TestExporter_ZeroMaxSize(t *testing.T) {
	exporter := NewExporter(0, nil)
	exporter.Update(12345)

	snap := exporter.Snapshot()
	assert.InDelta(t, 0.0, snap.UsagePercent, 0.001)
}

func TestExporter_Counters(t *testing.T) {
	exporter := NewExporter(1<<30, nil)

	exporter.IncCleanupOperations()
	exporter.IncCleanupOperations()
	exporter.IncCleanupErrors()

	snap := exporter.Snapshot()
	assert.Equal(t, int64(2), snap.CleanupOperations)
	assert.Equal(t, int64(1), snap.CleanupErrors)

	families, err := exporter.Registry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}

	assert.InDelta(t, 2.0, counterValue(t, byName, "loki_cleanup_operations_total"), 0.001)
	assert.InDelta(t, 1.0, counterValue(t, byName, "loki_cleanup_errors_total"), 0.001)
}

func TestExporter_FileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)

	maxSize := int64(2 << 30)
	exporter := NewExporter(maxSize, sink)

	size := int64(1 << 30)
	exporter.Update(size)

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(string(data)))
	require.NoError(t, err)

	assert.InDelta(t, float64(size), gaugeValue(t, families, "loki_data_size_bytes"), 0.001)
	assert.InDelta(t, 1.0, gaugeValue(t, families, "loki_data_size_gb"), 0.001)
	assert.InDelta(t, float64(maxSize), gaugeValue(t, families, "loki_max_size_bytes"), 0.001)
	assert.InDelta(t, 50.0, gaugeValue(t, families, "loki_usage_percent"), 0.001)
	assert.InDelta(t, 1.0, gaugeValue(t, families, "loki_metrics_available"), 0.001)
}

func TestExporter_FileOverwrittenEachUpdate(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	exporter := NewExporter(1<<30, sink)

	exporter.Update(100)
	exporter.Update(200)

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "loki_data_size_bytes 200")
	assert.NotContains(t, content, "loki_data_size_bytes 100")
}

func TestExporter_FileWriteFailureDoesNotPropagate(t *testing.T) {
	// Point the sink at a directory that no longer exists; Update must keep
	// the in-memory gauges working regardless.
	dir := filepath.Join(t.TempDir(), "gone")
	sink := NewFileSink(dir)
	exporter := NewExporter(1<<30, sink)

	exporter.Update(4096)

	snap := exporter.Snapshot()
	assert.Equal(t, int64(4096), snap.SizeBytes)
}
