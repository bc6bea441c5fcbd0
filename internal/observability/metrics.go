package observability

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the dataset client metrics following the golden 4 signals:
// - Latency: How long requests and export waits take
// - Traffic: Request, poll and download throughput
// - Errors: Failed requests and exports
// - Saturation: Exports currently being awaited
//
// *Metrics satisfies dataset.Recorder.
type Metrics struct {
	meter metric.Meter

	// Request metrics (Latency, Traffic, Errors)
	RequestDuration metric.Float64Histogram
	RequestsTotal   metric.Int64Counter
	RequestErrors   metric.Int64Counter

	// Export metrics (Latency, Traffic, Errors, Saturation)
	ExportsSubmitted metric.Int64Counter
	ExportPolls      metric.Int64Counter
	ExportWait       metric.Float64Histogram
	ExportsCompleted metric.Int64Counter
	ExportsActive    metric.Int64UpDownCounter

	// Artifact metrics (Traffic)
	ArtifactsDownloaded metric.Int64Counter
	ArtifactBytes       metric.Int64Counter
}

// NewMetrics creates all metrics on a fresh Prometheus registry and returns
// the handler that serves it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	meter := provider.Meter("datasetclient")
	m := &Metrics{meter: meter}

	// Request metrics
	m.RequestDuration, err = meter.Float64Histogram(
		"dataset_client_request_duration_seconds",
		metric.WithDescription("Dataset Service request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RequestsTotal, err = meter.Int64Counter(
		"dataset_client_requests_total",
		metric.WithDescription("Total number of Dataset Service requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RequestErrors, err = meter.Int64Counter(
		"dataset_client_request_errors_total",
		metric.WithDescription("Total number of failed requests (transport errors, 4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Export metrics
	m.ExportsSubmitted, err = meter.Int64Counter(
		"dataset_exports_submitted_total",
		metric.WithDescription("Total number of export jobs submitted"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ExportPolls, err = meter.Int64Counter(
		"dataset_export_polls_total",
		metric.WithDescription("Total number of export status fetches while waiting"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ExportWait, err = meter.Float64Histogram(
		"dataset_export_wait_duration_seconds",
		metric.WithDescription("Time spent waiting for an export to finish"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ExportsCompleted, err = meter.Int64Counter(
		"dataset_exports_completed_total",
		metric.WithDescription("Total number of export waits that ended (succeeded, failed or timeout)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ExportsActive, err = meter.Int64UpDownCounter(
		"dataset_exports_active",
		metric.WithDescription("Number of export waits in progress (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Artifact metrics
	m.ArtifactsDownloaded, err = meter.Int64Counter(
		"dataset_artifacts_downloaded_total",
		metric.WithDescription("Total number of artifacts downloaded"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ArtifactBytes, err = meter.Int64Counter(
		"dataset_artifact_bytes_total",
		metric.WithDescription("Total artifact bytes downloaded"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordRequest records one Dataset Service request. A zero statusCode means
// no response was received.
func (m *Metrics) RecordRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.RequestDuration.Record(ctx, duration.Seconds(), attrs)
	m.RequestsTotal.Add(ctx, 1, attrs)

	if statusCode == 0 || statusCode >= 400 {
		m.RequestErrors.Add(ctx, 1, attrs)
	}
}

// RecordExportSubmitted records a newly queued export.
func (m *Metrics) RecordExportSubmitted(ctx context.Context, template string) {
	m.ExportsSubmitted.Add(ctx, 1, metric.WithAttributes(templateAttr(template)))
}

// RecordExportPoll records one status fetch made while waiting.
func (m *Metrics) RecordExportPoll(ctx context.Context, status string) {
	m.ExportPolls.Add(ctx, 1, metric.WithAttributes(outcomeAttr(status)))
}

// RecordExportTerminal records the end of a wait.
func (m *Metrics) RecordExportTerminal(ctx context.Context, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(outcomeAttr(status))
	m.ExportWait.Record(ctx, elapsed.Seconds(), attrs)
	m.ExportsCompleted.Add(ctx, 1, attrs)
}

// RecordWaitActive moves the in-progress wait gauge by delta.
func (m *Metrics) RecordWaitActive(ctx context.Context, delta int64) {
	m.ExportsActive.Add(ctx, delta)
}

// RecordArtifactDownloaded records a completed artifact download.
func (m *Metrics) RecordArtifactDownloaded(ctx context.Context, format string, bytes int64) {
	attrs := metric.WithAttributes(formatAttr(format))
	m.ArtifactsDownloaded.Add(ctx, 1, attrs)
	m.ArtifactBytes.Add(ctx, bytes, attrs)
}
