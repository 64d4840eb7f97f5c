// Package observe provides observability primitives for wavecast: OpenTelemetry
// metrics covering the capture pipeline, with a Prometheus exporter bridge so
// values can be scraped from the standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StageAttr tags a measurement with the pipeline stage that produced it.
func StageAttr(stage string) metric.AddOption {
	return metric.WithAttributes(attribute.String("stage", stage))
}

// meterName is the instrumentation scope name used for all wavecast metrics.
const meterName = "github.com/justivo/wavecast"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// BuffersPushed counts PCM buffers accepted by the pipeline controller.
	BuffersPushed metric.Int64Counter

	// PCMBytesIn counts raw PCM bytes fed into the pipeline.
	PCMBytesIn metric.Int64Counter

	// PacketsEncoded counts Opus packets produced by the encode stage.
	PacketsEncoded metric.Int64Counter

	// BytesOut counts bytes written by the sink stage (file or network).
	BytesOut metric.Int64Counter

	// PipelineErrors counts fatal errors observed on the pipeline bus.
	// Use with attribute: attribute.String("stage", ...)
	PipelineErrors metric.Int64Counter

	// --- Histograms ---

	// DrainDuration tracks how long end-of-stream draining took during Stop.
	DrainDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live capture sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// drainBuckets defines histogram bucket boundaries (in seconds) sized around
// the 3-second drain timeout.
var drainBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.BuffersPushed, err = m.Int64Counter("wavecast.pipeline.buffers_pushed",
		metric.WithDescription("Total PCM buffers accepted by the pipeline controller."),
	); err != nil {
		return nil, err
	}
	if met.PCMBytesIn, err = m.Int64Counter("wavecast.pipeline.pcm_bytes_in",
		metric.WithDescription("Total raw PCM bytes fed into the pipeline."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PacketsEncoded, err = m.Int64Counter("wavecast.pipeline.packets_encoded",
		metric.WithDescription("Total Opus packets produced by the encode stage."),
	); err != nil {
		return nil, err
	}
	if met.BytesOut, err = m.Int64Counter("wavecast.sink.bytes_out",
		metric.WithDescription("Total bytes written by the sink stage."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PipelineErrors, err = m.Int64Counter("wavecast.pipeline.errors",
		metric.WithDescription("Total fatal errors observed on the pipeline bus, by stage."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.DrainDuration, err = m.Float64Histogram("wavecast.pipeline.drain.duration",
		metric.WithDescription("End-of-stream drain duration during Stop."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(drainBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("wavecast.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
