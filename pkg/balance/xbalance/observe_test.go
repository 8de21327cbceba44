package xbalance_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
	"github.com/omeyang/graylb/pkg/observability/xmetrics"
)

func newObserver(t *testing.T) (xmetrics.Observer, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	obs, err := xmetrics.NewOTelObserver(
		xmetrics.WithTracerProvider(tp),
		xmetrics.WithMeterProvider(mp),
	)
	require.NoError(t, err)
	return obs, recorder, reader
}

func spanAttr(attrs []attribute.KeyValue, key string) string {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestGrayRule_EmitsSpan(t *testing.T) {
	obs, recorder, reader := newObserver(t)
	rule := xbalance.NewGrayRule(xbalance.WithObserver(obs), xbalance.WithLogger(discardLogger()))

	_, err := rule.Choose(grayCall(t), mixedPool())
	require.NoError(t, err)
	_, err = rule.Choose(grayCall(t), []xbalance.Instance{normal1})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "choose", ok.Name())
	assert.Equal(t, "gray", spanAttr(ok.Attributes(), "rule"))
	assert.Equal(t, "gray", spanAttr(ok.Attributes(), "partition"))
	assert.NotEmpty(t, spanAttr(ok.Attributes(), "instance"))
	assert.Equal(t, "4", spanAttr(ok.Attributes(), "pool_size"))
	assert.Equal(t, "true", spanAttr(ok.Attributes(), "gray"))

	failed := spans[1]
	assert.Equal(t, "Error", failed.Status().Code.String())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != xmetrics.MetricSelectionTotal {
				continue
			}
			sum, isSum := m.Data.(metricdata.Sum[int64])
			require.True(t, isSum)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), total)
}

func TestChooser_EmitsSpan(t *testing.T) {
	obs, recorder, _ := newObserver(t)
	disc := staticDiscovery(map[string][]xbalance.Instance{"svc-a": {normal1}})
	c, err := xbalance.NewChooser(disc, xbalance.WithObserver(obs), xbalance.WithLogger(discardLogger()))
	require.NoError(t, err)

	_, err = c.Choose(context.Background(), "svc-a")
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "choose_instance", spans[0].Name())
	assert.Equal(t, "svc-a", spanAttr(spans[0].Attributes(), "service"))
}
