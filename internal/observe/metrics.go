// Package observe provides the detector's OpenTelemetry metrics and the
// provider that exposes them to Prometheus.
//
// Instruments are created through the OpenTelemetry Metrics API. Tests should
// use [NewMetrics] with their own [metric.MeterProvider]; everything else can
// use [DefaultMetrics], which binds to the global provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all alarmwatch metrics.
const meterName = "github.com/ColonelBlimp/alarmwatch"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// FramesProcessed counts frames that went through analysis.
	FramesProcessed metric.Int64Counter

	// PresentFrames counts frames classified as tone present.
	PresentFrames metric.Int64Counter

	// Detections counts emitted detection events.
	Detections metric.Int64Counter

	// StatusWrites counts emitted status snapshots.
	StatusWrites metric.Int64Counter

	// ReadRecoveries counts transient read errors recovered in place. Use with
	// attribute.String("reason", ...).
	ReadRecoveries metric.Int64Counter

	// SinkErrors counts failed sink writes. Use with
	// attribute.String("record", "detection"|"status").
	SinkErrors metric.Int64Counter

	// PeakMagnitude is the band peak of the most recent frame in dBFS.
	PeakMagnitude metric.Float64Gauge

	// BeepCount is the beep count after the most recent frame.
	BeepCount metric.Int64Gauge

	// FrameDuration tracks analysis plus state machine time per frame.
	FrameDuration metric.Float64Histogram
}

// frameBuckets are histogram boundaries (in seconds) for per-frame work,
// which should stay far below one frame period.
var frameBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("alarmwatch.frames",
		metric.WithDescription("Total frames analysed."),
	); err != nil {
		return nil, err
	}
	if met.PresentFrames, err = m.Int64Counter("alarmwatch.frames.present",
		metric.WithDescription("Total frames with the alarm tone present."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("alarmwatch.detections",
		metric.WithDescription("Total fire alarm detections."),
	); err != nil {
		return nil, err
	}
	if met.StatusWrites, err = m.Int64Counter("alarmwatch.status.writes",
		metric.WithDescription("Total status snapshots emitted."),
	); err != nil {
		return nil, err
	}
	if met.ReadRecoveries, err = m.Int64Counter("alarmwatch.read.recoveries",
		metric.WithDescription("Total transient read errors recovered, by reason."),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("alarmwatch.sink.errors",
		metric.WithDescription("Total failed sink writes, by record type."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.PeakMagnitude, err = m.Float64Gauge("alarmwatch.band.peak",
		metric.WithDescription("Band peak magnitude of the latest frame."),
		metric.WithUnit("dBFS"),
	); err != nil {
		return nil, err
	}
	if met.BeepCount, err = m.Int64Gauge("alarmwatch.beep.count",
		metric.WithDescription("Beeps counted in the current pattern."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.FrameDuration, err = m.Float64Histogram("alarmwatch.frame.duration",
		metric.WithDescription("Processing time per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordRecovery counts one recovered read error.
func (m *Metrics) RecordRecovery(ctx context.Context, reason string) {
	m.ReadRecoveries.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSinkError counts one failed sink write.
func (m *Metrics) RecordSinkError(ctx context.Context, record string) {
	m.SinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("record", record)))
}
