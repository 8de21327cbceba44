// Package xlog 提供基于 log/slog 的结构化日志。
//
// # 构建
//
//	logger, cleanup, err := xlog.New().
//		SetLevel(xlog.LevelDebug).
//		SetFormat("json").
//		SetRotation(xlog.Rotation{Filename: "/var/log/graylb/graylb.log"}).
//		Build()
//	if err != nil {
//		return err
//	}
//	defer cleanup()
//
// # Context 注入
//
// 默认启用 EnrichHandler，从 ctx 自动注入：
//   - gray=true（本次调用为灰度时）
//   - trace_id / span_id（ctx 携带有效 OpenTelemetry span 时）
//
// # 动态级别
//
// Build 返回 LoggerWithLevel，配置热更新时调用 SetLevel 即可生效，
// 通过 With/WithGroup 派生的 logger 共享级别。
//
// # 全局 Logger
//
// Default/SetDefault 与包级 Debug/Info/Warn/Error 用于 CLI 等简单场景。
package xlog
