package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests take
// - Traffic: Request, submission and poll throughput
// - Errors: Rate of failures
// - Saturation: Sandboxes left behind and reclaimed
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Submission and collection metrics
	SubmissionsTotal metric.Int64Counter
	ResolutionsTotal metric.Int64Counter
	ResultBytes      metric.Int64Histogram

	// Sandbox cleanup metrics
	SandboxDeleteFailures metric.Int64Counter
	SandboxesSwept        metric.Int64Counter
	SweepErrorsTotal      metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("runproxy")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Submission and collection metrics
	m.SubmissionsTotal, err = meter.Int64Counter(
		"submissions_total",
		metric.WithDescription("Total number of batch submissions by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ResolutionsTotal, err = meter.Int64Counter(
		"resolutions_total",
		metric.WithDescription("Total number of result polls by decision"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ResultBytes, err = meter.Int64Histogram(
		"result_bytes",
		metric.WithDescription("Size of collected result artifacts"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304),
	)
	if err != nil {
		return nil, nil, err
	}

	// Sandbox cleanup metrics
	m.SandboxDeleteFailures, err = meter.Int64Counter(
		"sandbox_delete_failures_total",
		metric.WithDescription("Total number of sandbox deletions that could not be started"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SandboxesSwept, err = meter.Int64Counter(
		"sandboxes_swept_total",
		metric.WithDescription("Total number of collected sandboxes reclaimed by the sweep"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SweepErrorsTotal, err = meter.Int64Counter(
		"sweep_errors_total",
		metric.WithDescription("Total number of sweep runs that ended with an error"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordSubmission records a batch submission. Outcome is "accepted", "rejected" or "error".
func (m *Metrics) RecordSubmission(ctx context.Context, image, outcome string) {
	m.SubmissionsTotal.Add(ctx, 1, metric.WithAttributes(imageAttr(image), outcomeAttr(outcome)))
}

// RecordResolution records the decision reached for one poll.
func (m *Metrics) RecordResolution(ctx context.Context, decision string) {
	m.ResolutionsTotal.Add(ctx, 1, metric.WithAttributes(decisionAttr(decision)))
}

// RecordResultCollected records the size of a delivered result.
func (m *Metrics) RecordResultCollected(ctx context.Context, size int) {
	m.ResultBytes.Record(ctx, int64(size))
}

// RecordSandboxDeleteFailure records a sandbox deletion that failed to start.
func (m *Metrics) RecordSandboxDeleteFailure(ctx context.Context) {
	m.SandboxDeleteFailures.Add(ctx, 1)
}

// RecordSweep records one sweep run.
func (m *Metrics) RecordSweep(ctx context.Context, removed int, success bool) {
	m.SandboxesSwept.Add(ctx, int64(removed))
	if !success {
		m.SweepErrorsTotal.Add(ctx, 1)
	}
}
