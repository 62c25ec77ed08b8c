// Package observe provides application-wide observability primitives for
// angioreview: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them into a Prometheus registry whose handler
// ([Telemetry.Handler]) serves the /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all angioreview metrics.
const meterName = "github.com/MrWong99/angioreview"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// CorrectionDuration tracks how long a correction submission takes from
	// adapter call to store merge. Use with attribute:
	//   attribute.String("outcome", "applied"|"fallback")
	CorrectionDuration metric.Float64Histogram

	// RefineDuration tracks transcript refinement latency.
	RefineDuration metric.Float64Histogram

	// ComposeDuration tracks report composition latency, image resolution
	// included.
	ComposeDuration metric.Float64Histogram

	// ImageResolveDuration tracks the latency of resolving one finding image.
	ImageResolveDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// CorrectionFallbacks counts submissions resolved by the verbatim-note
	// fallback. Use with attribute:
	//   attribute.String("reason", ...)
	CorrectionFallbacks metric.Int64Counter

	// ImagesSkipped counts finding images left out of a report because they
	// could not be resolved.
	ImagesSkipped metric.Int64Counter

	// DeletionsRejected counts delete requests refused to keep at least one
	// finding on the record.
	DeletionsRejected metric.Int64Counter

	// ReportsGenerated counts rendered report documents.
	ReportsGenerated metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of live voice capture sessions.
	ActiveCaptures metric.Int64UpDownCounter

	// ActiveCorrections tracks the number of open correction sessions.
	ActiveCorrections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Language
// model calls dominate the upper range.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.CorrectionDuration, err = histogram("angioreview.correction.duration",
		"Latency of a correction submission."); err != nil {
		return nil, err
	}
	if met.RefineDuration, err = histogram("angioreview.refine.duration",
		"Latency of transcript refinement."); err != nil {
		return nil, err
	}
	if met.ComposeDuration, err = histogram("angioreview.compose.duration",
		"Latency of report composition."); err != nil {
		return nil, err
	}
	if met.ImageResolveDuration, err = histogram("angioreview.image_resolve.duration",
		"Latency of resolving a finding image."); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("angioreview.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.CorrectionFallbacks, err = m.Int64Counter("angioreview.correction.fallbacks",
		metric.WithDescription("Correction submissions resolved by the note fallback."),
	); err != nil {
		return nil, err
	}
	if met.ImagesSkipped, err = m.Int64Counter("angioreview.report.images_skipped",
		metric.WithDescription("Finding images skipped during report composition."),
	); err != nil {
		return nil, err
	}
	if met.DeletionsRejected, err = m.Int64Counter("angioreview.findings.deletions_rejected",
		metric.WithDescription("Finding deletions refused to keep the record non-empty."),
	); err != nil {
		return nil, err
	}
	if met.ReportsGenerated, err = m.Int64Counter("angioreview.reports.generated",
		metric.WithDescription("Rendered report documents."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("angioreview.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("angioreview.active_captures",
		metric.WithDescription("Number of live voice capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCorrections, err = m.Int64UpDownCounter("angioreview.active_corrections",
		metric.WithDescription("Number of open correction sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("angioreview.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCorrectionFallback counts one fallback resolution.
func (m *Metrics) RecordCorrectionFallback(ctx context.Context, reason string) {
	m.CorrectionFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordImageSkipped counts one image left out of a report.
func (m *Metrics) RecordImageSkipped(ctx context.Context, reason string) {
	m.ImagesSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
