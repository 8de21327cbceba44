package xetcd

import (
	"fmt"
	"strings"
	"time"
)

// Config etcd 客户端配置。
//
// 推荐使用 DefaultConfig() 获取带有推荐默认值的配置，然后按需覆盖：
//
//	cfg := xetcd.DefaultConfig()
//	cfg.Endpoints = []string{"localhost:2379"}
//	client, err := xetcd.NewClient(cfg)
type Config struct {
	// Endpoints etcd 服务端点列表，必填，格式 host:port。
	Endpoints []string `json:"endpoints" koanf:"endpoints"`

	// Username 用户名（可选）。
	Username string `json:"username" koanf:"username"`

	// Password 密码（可选）。
	Password string `json:"-" koanf:"password"`

	// DialTimeout 连接超时，零值时使用 5 秒。
	DialTimeout time.Duration `json:"dial_timeout" koanf:"dial_timeout"`

	// DialKeepAliveTime gRPC keepalive 探测间隔，零值时使用 10 秒。
	DialKeepAliveTime time.Duration `json:"dial_keepalive_time" koanf:"dial_keepalive_time"`

	// DialKeepAliveTimeout gRPC keepalive 超时，零值时使用 3 秒。
	DialKeepAliveTimeout time.Duration `json:"dial_keepalive_timeout" koanf:"dial_keepalive_timeout"`

	// PermitWithoutStream 没有活跃流时也发送 keepalive。
	// 零值为 false，DefaultConfig() 返回 true。
	PermitWithoutStream bool `json:"permit_without_stream" koanf:"permit_without_stream"`
}

// 默认配置值。
const (
	defaultDialTimeout          = 5 * time.Second
	defaultDialKeepAliveTime    = 10 * time.Second
	defaultDialKeepAliveTimeout = 3 * time.Second
)

// DefaultConfig 返回带有推荐默认值的配置。
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:          defaultDialTimeout,
		DialKeepAliveTime:    defaultDialKeepAliveTime,
		DialKeepAliveTimeout: defaultDialKeepAliveTimeout,
		PermitWithoutStream:  true,
	}
}

// Validate 检查 Endpoints 非空且每个都是 host:port 形式。
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	for i, ep := range c.Endpoints {
		if ep == "" {
			return fmt.Errorf("%w: endpoint[%d] is empty", ErrInvalidEndpoint, i)
		}
		if !strings.Contains(ep, ":") {
			return fmt.Errorf("%w: endpoint[%d]=%q missing port", ErrInvalidEndpoint, i, ep)
		}
	}
	return nil
}

// applyDefaults 返回填充默认值后的副本，不修改原配置。
func (c *Config) applyDefaults() *Config {
	cfg := *c
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.DialKeepAliveTime <= 0 {
		cfg.DialKeepAliveTime = defaultDialKeepAliveTime
	}
	if cfg.DialKeepAliveTimeout <= 0 {
		cfg.DialKeepAliveTimeout = defaultDialKeepAliveTimeout
	}
	return &cfg
}
