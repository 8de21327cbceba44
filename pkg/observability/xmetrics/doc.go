// Package xmetrics 提供选择过程的可观测性接口（metrics + tracing）。
//
// # 设计理念
//
// 只定义最小化接口 Observer/Span/Attr，xbalance 只依赖接口，实现可替换：
//   - NewOTelObserver: OpenTelemetry 跨度 + 指标
//   - NewPrometheusObserver: Prometheus 计数器 + 直方图（由 promhttp 暴露）
//   - Multi: 同时输出到多个 Observer
//
// # 使用示例
//
//	obs, _ := xmetrics.NewOTelObserver()
//	ctx, span := xmetrics.Start(ctx, obs, xmetrics.SpanOptions{
//		Component: "xbalance",
//		Operation: "choose",
//	})
//	defer span.End(xmetrics.Result{Err: err})
//
// # 指标命名
//
// OpenTelemetry：
//   - graylb.selection.total
//   - graylb.selection.duration
//
// Prometheus：
//   - graylb_selection_total
//   - graylb_selection_duration_seconds
//
// 统一标签：component / operation / status。
package xmetrics
