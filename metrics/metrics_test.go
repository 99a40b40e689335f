package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestCountersAndGauges(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	ctx := context.Background()
	c := Int64Counter("test.requests", "Test requests")
	MetricIncrCounter(ctx, nil, c)
	MetricIncrCounter(ctx, nil, c)
	MetricIncrCounter(ctx, errors.New("boom"), c, attribute.String("kind", "refund"))
	Int64Gauge("test.height", "Test height", func() int64 { return 42 })

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = m.Data
		}
	}

	sum, ok := found["auctiond.test.requests"].(metricdata.Sum[int64])
	require.True(t, ok)
	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value("status")
		counts[status.AsString()] += dp.Value
	}
	assert.Equal(t, int64(2), counts["ok"])
	assert.Equal(t, int64(1), counts["error"])

	gauge, ok := found["auctiond.test.height"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(42), gauge.DataPoints[0].Value)
}
