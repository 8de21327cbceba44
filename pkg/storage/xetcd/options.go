package xetcd

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/omeyang/graylb/pkg/observability/xlog"
)

const defaultHealthCheckKey = "graylb-health-check"

type options struct {
	ctx              context.Context
	healthCheck      bool
	healthTimeout    time.Duration
	healthCheckKey   string
	healthCheckTries uint
	tlsConfig        *tls.Config
	logger           xlog.Logger
}

func defaultOptions() *options {
	return &options{
		ctx:              context.Background(),
		healthTimeout:    10 * time.Second,
		healthCheckKey:   defaultHealthCheckKey,
		healthCheckTries: 3,
	}
}

// Option 定义客户端配置选项。
type Option func(*options)

// WithContext 设置 NewClient 阶段（健康检查）使用的 context，不影响客户端生命周期。
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// WithHealthCheck 创建后用一次 Get 验证连接，失败时按退避重试，整体受 timeout 约束。
func WithHealthCheck(enabled bool, timeout time.Duration) Option {
	return func(o *options) {
		o.healthCheck = enabled
		if timeout > 0 {
			o.healthTimeout = timeout
		}
	}
}

// WithHealthCheckKey 设置健康检查读取的 key，RBAC 前缀授权时应设为授权范围内的路径。
func WithHealthCheckKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.healthCheckKey = key
		}
	}
}

// WithTLS 设置 TLS 配置。
func WithTLS(config *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = config
	}
}

// WithLogger 设置日志记录器，记录 watch 重连和租约撤销失败。默认使用 xlog.Default()。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
