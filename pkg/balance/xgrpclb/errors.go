package xgrpclb

import "errors"

var (
	// ErrNoInstances 服务当前没有实例。
	ErrNoInstances = errors.New("xgrpclb: no instances")

	// ErrNilWatcher 解析器缺少实例来源。
	ErrNilWatcher = errors.New("xgrpclb: nil watcher")

	// ErrEmptyService 目标中没有服务名。
	ErrEmptyService = errors.New("xgrpclb: empty service name in target")
)
