package xmetrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultSelectionBuckets 选择耗时直方图桶（秒）。选择是纯内存操作，
// 大部分落在亚毫秒区间，带服务发现查询时可达数十毫秒。
var DefaultSelectionBuckets = []float64{
	0.00001, // 10µs
	0.00005, // 50µs
	0.0001,  // 100µs
	0.0005,  // 500µs
	0.001,   // 1ms
	0.005,   // 5ms
	0.01,    // 10ms
	0.05,    // 50ms
	0.1,     // 100ms
	0.5,     // 500ms
}

// PrometheusObserver 基于 Prometheus 的 Observer，只记录指标，不产生 trace。
type PrometheusObserver struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusObserver 创建并向 reg 注册选择指标。reg 为 nil 时使用 prometheus.DefaultRegisterer。
// 同名指标已注册时复用已有的 collector。
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"component", "operation", "status"}

	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graylb",
		Subsystem: "selection",
		Name:      "total",
		Help:      "Total number of instance selections, by component, operation and status.",
	}, labels)
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "graylb",
		Subsystem: "selection",
		Name:      "duration_seconds",
		Help:      "Instance selection latency in seconds.",
		Buckets:   DefaultSelectionBuckets,
	}, labels)

	var err error
	if total, err = register(reg, total); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	return &PrometheusObserver{total: total, duration: duration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("%w: %w", ErrRegister, err)
	}
	return c, nil
}

// Start 实现 Observer。
func (p *PrometheusObserver) Start(ctx context.Context, opts SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, &promSpan{
		observer:  p,
		component: labelOrUnknown(opts.Component),
		operation: labelOrUnknown(opts.Operation),
		start:     time.Now(),
	}
}

type promSpan struct {
	observer  *PrometheusObserver
	component string
	operation string
	start     time.Time
	endOnce   sync.Once
}

func (s *promSpan) End(result Result) {
	s.endOnce.Do(func() {
		status := string(resolveStatus(result))
		s.observer.total.WithLabelValues(s.component, s.operation, status).Inc()
		s.observer.duration.WithLabelValues(s.component, s.operation, status).Observe(time.Since(s.start).Seconds())
	})
}
