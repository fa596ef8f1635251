// Package observe provides application-wide observability primitives for the
// help desk: OpenTelemetry metrics, distributed tracing, request-scoped
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is used by the pipeline packages; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all help desk metrics.
const meterName = "github.com/MrWong99/helpdesk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// EmbedDuration tracks embeddings provider latency. Attributes: stage, status.
	EmbedDuration metric.Float64Histogram

	// ClassifyDuration tracks the nearest-exemplar lookup, excluding embedding.
	ClassifyDuration metric.Float64Histogram

	// RetrieveDuration tracks the knowledge lookup, excluding embedding.
	RetrieveDuration metric.Float64Histogram

	// PipelineDuration tracks a full Process call. Attribute: status.
	PipelineDuration metric.Float64Histogram

	// LLMDuration tracks response generation latency.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// Requests counts pipeline invocations. Attribute: status.
	Requests metric.Int64Counter

	// Classifications counts results by category and fallback flag.
	Classifications metric.Int64Counter

	// Escalations counts decisions by reason and required flag.
	Escalations metric.Int64Counter

	// EmptyRetrievals counts retrievals where nothing cleared the similarity floor.
	EmptyRetrievals metric.Int64Counter

	// ProviderRequests counts provider API calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Attributes: tool, status.
	ToolCalls metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// IndexedEntries tracks the size of each vector index. Attribute: index.
	IndexedEntries metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds. Local
// lookups land in the first buckets; provider calls in the upper ones.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.EmbedDuration, "helpdesk.embed.duration", "Latency of embeddings provider calls."},
		{&met.ClassifyDuration, "helpdesk.classify.duration", "Latency of nearest-exemplar classification, excluding embedding."},
		{&met.RetrieveDuration, "helpdesk.retrieve.duration", "Latency of knowledge retrieval, excluding embedding."},
		{&met.PipelineDuration, "helpdesk.pipeline.duration", "End-to-end request-understanding latency."},
		{&met.LLMDuration, "helpdesk.llm.duration", "Latency of response generation."},
		{&met.ToolExecutionDuration, "helpdesk.tool_execution.duration", "Latency of MCP tool execution."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Requests, "helpdesk.requests", "Total pipeline requests by status."},
		{&met.Classifications, "helpdesk.classifications", "Total classifications by category and fallback."},
		{&met.Escalations, "helpdesk.escalations", "Total escalation decisions by reason."},
		{&met.EmptyRetrievals, "helpdesk.retrieval.empty", "Retrievals with no chunk above the similarity floor."},
		{&met.ProviderRequests, "helpdesk.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ToolCalls, "helpdesk.tool.calls", "Total MCP tool invocations by tool name and status."},
		{&met.ProviderErrors, "helpdesk.provider.errors", "Total provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.IndexedEntries, err = m.Int64UpDownCounter("helpdesk.index.entries",
		metric.WithDescription("Number of entries per vector index."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("helpdesk.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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
// first call using [otel.GetMeterProvider]. Call [InitProvider] before the
// first DefaultMetrics call so instruments bind to the exporting provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status maps an error to the "ok"/"error" attribute value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordEmbed records one embeddings call made for stage ("classify",
// "retrieve" or "pipeline" when the vector is shared).
func (m *Metrics) RecordEmbed(ctx context.Context, stage string, d time.Duration, err error) {
	m.EmbedDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", Status(err)),
	))
}

// RecordClassification records one classification outcome.
func (m *Metrics) RecordClassification(ctx context.Context, category string, fallback bool, d time.Duration) {
	m.ClassifyDuration.Record(ctx, d.Seconds())
	m.Classifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("fallback", strconv.FormatBool(fallback)),
	))
}

// RecordRetrieval records one retrieval returning hits chunks.
func (m *Metrics) RecordRetrieval(ctx context.Context, hits int, d time.Duration) {
	m.RetrieveDuration.Record(ctx, d.Seconds())
	if hits == 0 {
		m.EmptyRetrievals.Add(ctx, 1)
	}
}

// RecordEscalation records one escalation decision.
func (m *Metrics) RecordEscalation(ctx context.Context, reason string, required bool) {
	m.Escalations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("required", strconv.FormatBool(required)),
	))
}

// RecordPipeline records one Process call.
func (m *Metrics) RecordPipeline(ctx context.Context, d time.Duration, err error) {
	status := metric.WithAttributes(attribute.String("status", Status(err)))
	m.Requests.Add(ctx, 1, status)
	m.PipelineDuration.Record(ctx, d.Seconds(), status)
}

// RecordIndexSize adjusts the gauge for index by delta entries.
func (m *Metrics) RecordIndexSize(ctx context.Context, index string, delta int) {
	m.IndexedEntries.Add(ctx, int64(delta), metric.WithAttributes(attribute.String("index", index)))
}

// RecordProviderRequest records a provider request counter increment.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordLLM records one completion request against model.
func (m *Metrics) RecordLLM(ctx context.Context, model string, d time.Duration, err error) {
	m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", Status(err)),
	))
}

// RecordToolCall records an MCP tool call and its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", Status(err)),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, d.Seconds(), attrs)
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
