package xetcd

import "errors"

// 错误定义。
var (
	// ErrNilConfig 配置为空。
	ErrNilConfig = errors.New("xetcd: config is nil")

	// ErrNoEndpoints 未配置 etcd 端点。
	ErrNoEndpoints = errors.New("xetcd: no endpoints configured")

	// ErrInvalidEndpoint endpoint 格式无效，应为 host:port。
	ErrInvalidEndpoint = errors.New("xetcd: invalid endpoint format, expected host:port")

	// ErrKeyNotFound 键不存在。
	ErrKeyNotFound = errors.New("xetcd: key not found")

	// ErrClientClosed 客户端已关闭。
	ErrClientClosed = errors.New("xetcd: client is closed")

	// ErrEmptyKey 键名为空。
	ErrEmptyKey = errors.New("xetcd: key is empty")

	// ErrNilContext context 为 nil。
	ErrNilContext = errors.New("xetcd: nil context")

	// ErrLeaseExpired 租约续约通道关闭，租约已过期或被撤销。
	ErrLeaseExpired = errors.New("xetcd: lease expired")

	// ErrMaxRetriesExceeded WatchWithRetry 重连次数耗尽。
	ErrMaxRetriesExceeded = errors.New("xetcd: watch max retries exceeded")

	// ErrWatchDisconnected watch 通道无错误地关闭。
	ErrWatchDisconnected = errors.New("xetcd: watch disconnected")

	errNilKv = errors.New("xetcd: watch event has nil kv")
)

// IsKeyNotFound 检查错误是否为键不存在。
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsClientClosed 检查错误是否为客户端已关闭。
func IsClientClosed(err error) bool {
	return errors.Is(err, ErrClientClosed)
}
