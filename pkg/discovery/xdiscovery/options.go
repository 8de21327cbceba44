package xdiscovery

import (
	"time"

	"github.com/omeyang/graylb/pkg/observability/xlog"
	"github.com/omeyang/graylb/pkg/storage/xetcd"
)

// 默认值。
const (
	DefaultPrefix      = "/graylb/services"
	DefaultCacheTTL    = 30 * time.Second
	DefaultCacheSize   = 1024
	DefaultRegisterTTL = 10 * time.Second
)

type etcdOptions struct {
	prefix      string
	cacheTTL    time.Duration
	cacheSize   int
	registerTTL time.Duration
	retry       xetcd.RetryConfig
	logger      xlog.Logger
}

// EtcdOption 配置 Etcd。
type EtcdOption func(*etcdOptions)

// WithPrefix 设置注册键前缀，默认 DefaultPrefix。
func WithPrefix(prefix string) EtcdOption {
	return func(o *etcdOptions) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithCacheTTL 设置实例快照缓存时间，即没有 watch 事件时的最长刷新间隔。
func WithCacheTTL(ttl time.Duration) EtcdOption {
	return func(o *etcdOptions) {
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithCacheSize 设置最多缓存的服务数。
func WithCacheSize(size int) EtcdOption {
	return func(o *etcdOptions) {
		if size > 0 {
			o.cacheSize = size
		}
	}
}

// WithRegisterTTL 设置注册租约 TTL。
func WithRegisterTTL(ttl time.Duration) EtcdOption {
	return func(o *etcdOptions) {
		if ttl > 0 {
			o.registerTTL = ttl
		}
	}
}

// WithRetryConfig 设置 Run 中 watch 的重连策略。
func WithRetryConfig(cfg xetcd.RetryConfig) EtcdOption {
	return func(o *etcdOptions) {
		o.retry = cfg
	}
}

// WithLogger 设置日志记录器，默认 xlog.Default()。
func WithLogger(l xlog.Logger) EtcdOption {
	return func(o *etcdOptions) {
		if l != nil {
			o.logger = l
		}
	}
}
