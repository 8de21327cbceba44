package xmetrics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/graylb/pkg/observability/xmetrics"
)

func newTestProviders(t *testing.T) (*tracetest.InMemoryExporter, *sdkmetric.ManualReader, xmetrics.Observer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	obs, err := xmetrics.NewOTelObserver(
		xmetrics.WithInstrumentationName("test"),
		xmetrics.WithTracerProvider(tp),
		xmetrics.WithMeterProvider(mp),
	)
	require.NoError(t, err)
	return exporter, reader, obs
}

func collectCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != xmetrics.MetricSelectionTotal {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				counts[status.AsString()] += dp.Value
			}
		}
	}
	return counts
}

func TestNewOTelObserver_Default(t *testing.T) {
	obs, err := xmetrics.NewOTelObserver(nil, xmetrics.WithTracerProvider(nil), xmetrics.WithMeterProvider(nil))
	require.NoError(t, err)
	require.NotNil(t, obs)
}

func TestOTelObserver_Span(t *testing.T) {
	exporter, reader, obs := newTestProviders(t)

	ctx, span := obs.Start(context.Background(), xmetrics.SpanOptions{
		Component: "xbalance",
		Operation: "choose",
		Kind:      xmetrics.KindInternal,
		Attrs:     []xmetrics.Attr{xmetrics.String("rule", "gray"), xmetrics.Int("pool", 3), {Key: "", Value: "x"}},
	})
	assert.True(t, trace.SpanFromContext(ctx).SpanContext().IsValid())
	span.End(xmetrics.Result{Attrs: []xmetrics.Attr{xmetrics.Bool("gray", true)}})
	span.End(xmetrics.Result{}) // 幂等

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "choose", spans[0].Name)
	assert.Equal(t, trace.SpanKindInternal, spans[0].SpanKind)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Contains(t, spans[0].Attributes, attribute.String("rule", "gray"))
	assert.Contains(t, spans[0].Attributes, attribute.Int("pool", 3))
	assert.Contains(t, spans[0].Attributes, attribute.Bool("gray", true))

	assert.Equal(t, map[string]int64{"ok": 1}, collectCounts(t, reader))
}

func TestOTelObserver_Error(t *testing.T) {
	exporter, reader, obs := newTestProviders(t)

	_, span := obs.Start(context.Background(), xmetrics.SpanOptions{Kind: xmetrics.KindClient})
	span.End(xmetrics.Result{Err: errors.New("out of instances")})

	_, span = obs.Start(context.Background(), xmetrics.SpanOptions{})
	span.End(xmetrics.Result{Status: xmetrics.StatusError})

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "unknown", spans[0].Name)
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "out of instances", spans[0].Status.Description)
	assert.Equal(t, "selection failed", spans[1].Status.Description)

	assert.Equal(t, map[string]int64{"error": 2}, collectCounts(t, reader))
}

func TestOTelObserver_CanceledContextStillRecords(t *testing.T) {
	_, reader, obs := newTestProviders(t)

	ctx, cancel := context.WithCancel(context.Background())
	_, span := obs.Start(ctx, xmetrics.SpanOptions{Operation: "choose"})
	cancel()
	span.End(xmetrics.Result{})

	assert.Equal(t, map[string]int64{"ok": 1}, collectCounts(t, reader))
}
