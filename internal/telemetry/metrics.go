package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/webbuild"
)

// Metrics holds the OpenTelemetry instruments recorded by builds.
type Metrics struct {
	BuildsTotal       metric.Int64Counter
	BuildErrorsTotal  metric.Int64Counter
	BuildDuration     metric.Float64Histogram
	OutputFilesTotal  metric.Int64Counter
	OutputBytesTotal  metric.Int64Counter
	PluginDuration    metric.Float64Histogram
	TransformsTotal   metric.Int64Counter
	TransformCacheHit metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Without InitTelemetry the global no-op provider is used.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for build spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	m.BuildsTotal, _ = meter.Int64Counter(
		"webbuild.builds.total",
		metric.WithDescription("Total number of builds started"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"webbuild.builds.errors.total",
		metric.WithDescription("Total number of failed builds"),
		metric.WithUnit("{build}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"webbuild.builds.duration",
		metric.WithDescription("Duration of builds"),
		metric.WithUnit("ms"),
	)

	m.OutputFilesTotal, _ = meter.Int64Counter(
		"webbuild.outputs.files.total",
		metric.WithDescription("Total number of files written"),
		metric.WithUnit("{file}"),
	)

	m.OutputBytesTotal, _ = meter.Int64Counter(
		"webbuild.outputs.bytes.total",
		metric.WithDescription("Total number of bytes written"),
		metric.WithUnit("By"),
	)

	m.PluginDuration, _ = meter.Float64Histogram(
		"webbuild.plugins.duration",
		metric.WithDescription("Duration of plugin hooks"),
		metric.WithUnit("ms"),
	)

	m.TransformsTotal, _ = meter.Int64Counter(
		"webbuild.transforms.total",
		metric.WithDescription("Total number of files run through a transform chain"),
		metric.WithUnit("{file}"),
	)

	m.TransformCacheHit, _ = meter.Int64Counter(
		"webbuild.transforms.cache_hits.total",
		metric.WithDescription("Total number of transform results served from cache"),
		metric.WithUnit("{file}"),
	)

	return m
}
