package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds the OpenTelemetry instruments exported over OTLP.
// They mirror the Prometheus counters for deployments that scrape neither.
type OTelMetrics struct {
	decisionDuration metric.Float64Histogram
	decisionsTotal   metric.Int64Counter
	storeQueryTotal  metric.Int64Counter
	storeDuration    metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on the given meter provider.
// A nil provider uses the global one.
func NewOTelMetrics(provider metric.MeterProvider) (*OTelMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(InstrumentationName)

	m := &OTelMetrics{}
	var err error

	m.decisionDuration, err = meter.Float64Histogram(
		"gatekeeper.decision.duration",
		metric.WithDescription("Time to resolve one permission check"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision duration histogram: %w", err)
	}

	m.decisionsTotal, err = meter.Int64Counter(
		"gatekeeper.decisions",
		metric.WithDescription("Permission checks by deciding source"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	m.storeQueryTotal, err = meter.Int64Counter(
		"gatekeeper.store.queries",
		metric.WithDescription("Grant store queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store query counter: %w", err)
	}

	m.storeDuration, err = meter.Float64Histogram(
		"gatekeeper.store.duration",
		metric.WithDescription("Grant store query duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store duration histogram: %w", err)
	}

	return m, nil
}

// RecordDecision records one resolved check.
func (m *OTelMetrics) RecordDecision(ctx context.Context, source string, allowed bool, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("allowed", allowed),
	)
	m.decisionsTotal.Add(ctx, 1, attrs)
	m.decisionDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordStoreQuery records one grant store query.
func (m *OTelMetrics) RecordStoreQuery(ctx context.Context, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.storeQueryTotal.Add(ctx, 1, attrs)
	m.storeDuration.Record(ctx, duration.Seconds(), attrs)
}
