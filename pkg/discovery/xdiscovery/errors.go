package xdiscovery

import "errors"

var (
	// ErrInvalidService 服务名为空或包含 "/"。
	ErrInvalidService = errors.New("xdiscovery: invalid service name")

	// ErrInvalidInstance 实例缺少 host 或端口越界。
	ErrInvalidInstance = errors.New("xdiscovery: invalid instance")

	// ErrNilStore Etcd 缺少存储。
	ErrNilStore = errors.New("xdiscovery: nil store")
)
