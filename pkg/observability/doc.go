// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xlog: 结构化日志，基于 log/slog 扩展，支持动态级别与文件轮转
//   - xmetrics: 选择过程的指标与追踪，支持 OpenTelemetry 与 Prometheus
package observability
