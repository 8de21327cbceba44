package xlog

import "errors"

// 构建 Logger 返回的错误。
var (
	// ErrNilHandler NewEnrichHandler 的 base handler 为 nil
	ErrNilHandler = errors.New("xlog: base handler is nil")
	// ErrUnknownLevel 无法解析的日志级别
	ErrUnknownLevel = errors.New("xlog: unknown level")
	// ErrUnknownFormat 不支持的输出格式
	ErrUnknownFormat = errors.New("xlog: unknown format")
	// ErrEmptyFilename 轮转文件名为空
	ErrEmptyFilename = errors.New("xlog: empty rotation filename")
)
