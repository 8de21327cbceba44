package xlog

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/graylb/pkg/routing/xroute"
)

// trace 字段 Key
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"
)

// EnrichHandler 从 context 提取路由与追踪信息并注入日志
//
// 装饰模式，包装底层 slog.Handler，在 Handle() 时添加：
//   - gray: 本次调用为灰度时为 true（见 xroute.AppendAttrs）
//   - trace_id, span_id: ctx 中有效的 OpenTelemetry SpanContext
//
// 缺少的字段直接跳过，不影响日志写入。
type EnrichHandler struct {
	base slog.Handler
}

// NewEnrichHandler 创建 EnrichHandler
//
// 调用 WithGroup 后 enrich 字段同样归入该分组（slog handler 的固有行为）。
func NewEnrichHandler(base slog.Handler) (*EnrichHandler, error) {
	if base == nil {
		return nil, ErrNilHandler
	}
	return &EnrichHandler{base: base}, nil
}

// Enabled 委托给底层 handler
func (h *EnrichHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// maxEnrichAttrs gray 1 + trace 2
const maxEnrichAttrs = 3

// Handle 注入字段后交给底层 handler。按 slog 契约先 Clone 再修改 record。
func (h *EnrichHandler) Handle(ctx context.Context, r slog.Record) error {
	var buf [maxEnrichAttrs]slog.Attr
	attrs := xroute.AppendAttrs(buf[:0], ctx)
	attrs = appendTraceAttrs(attrs, ctx)

	if len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.base.Handle(ctx, r)
}

func appendTraceAttrs(attrs []slog.Attr, ctx context.Context) []slog.Attr {
	if ctx == nil {
		return attrs
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return attrs
	}
	return append(attrs,
		slog.String(KeyTraceID, sc.TraceID().String()),
		slog.String(KeySpanID, sc.SpanID().String()),
	)
}

// WithAttrs 返回带额外属性的新 handler
func (h *EnrichHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &EnrichHandler{base: h.base.WithAttrs(attrs)}
}

// WithGroup 返回带分组的新 handler
func (h *EnrichHandler) WithGroup(name string) slog.Handler {
	return &EnrichHandler{base: h.base.WithGroup(name)}
}
