package xmetrics

import "errors"

// 创建 Observer 返回的错误。
var (
	// ErrCreateCounter 表示创建计数器失败。
	ErrCreateCounter = errors.New("xmetrics: create counter failed")
	// ErrCreateHistogram 表示创建直方图失败。
	ErrCreateHistogram = errors.New("xmetrics: create histogram failed")
	// ErrRegister 表示向 Prometheus Registerer 注册失败。
	ErrRegister = errors.New("xmetrics: register collector failed")
)
