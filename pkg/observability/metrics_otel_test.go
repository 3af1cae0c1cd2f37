package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMeterProvider(t *testing.T) (*metric.MeterProvider, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider, reader
}

func collectSum(t *testing.T, reader *metric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestOTelMetrics_RecordDecision(t *testing.T) {
	provider, reader := setupTestMeterProvider(t)
	m, err := NewOTelMetrics(provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordDecision(ctx, "catalog", true, 2*time.Millisecond)
	m.RecordDecision(ctx, "none", false, time.Millisecond)

	assert.Equal(t, int64(2), collectSum(t, reader, "gatekeeper.decisions"))
}

func TestOTelMetrics_RecordStoreQuery(t *testing.T) {
	provider, reader := setupTestMeterProvider(t)
	m, err := NewOTelMetrics(provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordStoreQuery(ctx, "role_id", time.Millisecond, nil)
	m.RecordStoreQuery(ctx, "role_grant", time.Millisecond, errors.New("boom"))
	m.RecordStoreQuery(ctx, "user_grant", time.Millisecond, nil)

	assert.Equal(t, int64(3), collectSum(t, reader, "gatekeeper.store.queries"))
}

func TestOTelMetrics_NilSafe(t *testing.T) {
	var m *OTelMetrics
	assert.NotPanics(t, func() {
		m.RecordDecision(context.Background(), "catalog", true, time.Millisecond)
		m.RecordStoreQuery(context.Background(), "role_id", time.Millisecond, nil)
	})
}
