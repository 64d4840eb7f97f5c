package observe_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/justivo/wavecast/internal/observe"
)

// newTestMeter returns a Metrics instance backed by a manual reader so tests
// can collect recorded values without a running exporter.
func newTestMeter(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collectSum finds a metric by name and returns the total of its int64 data points.
func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %q not found", name)
	return 0
}

func TestCountersRecord(t *testing.T) {
	m, reader := newTestMeter(t)
	ctx := context.Background()

	m.BuffersPushed.Add(ctx, 3)
	m.PCMBytesIn.Add(ctx, 4096)
	m.PipelineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "encode")))

	if got := collectSum(t, reader, "wavecast.pipeline.buffers_pushed"); got != 3 {
		t.Errorf("buffers_pushed = %d, want 3", got)
	}
	if got := collectSum(t, reader, "wavecast.pipeline.pcm_bytes_in"); got != 4096 {
		t.Errorf("pcm_bytes_in = %d, want 4096", got)
	}
	if got := collectSum(t, reader, "wavecast.pipeline.errors"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestActiveSessionsUpDown(t *testing.T) {
	m, reader := newTestMeter(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	if got := collectSum(t, reader, "wavecast.active_sessions"); got != 1 {
		t.Errorf("active_sessions = %d, want 1", got)
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	a := observe.DefaultMetrics()
	b := observe.DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics should return the same instance")
	}
}
