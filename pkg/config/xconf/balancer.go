package xconf

import (
	"fmt"
	"time"

	"github.com/omeyang/graylb/pkg/observability/xlog"
)

// 服务发现后端。
const (
	BackendStatic = "static"
	BackendEtcd   = "etcd"
)

// 默认值。
const (
	DefaultRule        = "gray"
	DefaultEtcdPrefix  = "/graylb/services"
	DefaultDialTimeout = 5 * time.Second
	DefaultCacheTTL    = 30 * time.Second
	DefaultRegisterTTL = 10 * time.Second
	DefaultProxyListen = ":8080"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	maxPort            = 65535
)

// Balancer 是 graylb 的完整配置。
//
//	default_rule: gray
//	rules:
//	  billing: random
//	discovery:
//	  backend: static
//	  static:
//	    orders:
//	      - host: 10.0.0.1
//	        port: 8080
//	      - host: 10.0.0.2
//	        port: 8080
//	        metadata: {gray: "true"}
type Balancer struct {
	// DefaultRule 未单独配置的服务使用的规则名。
	DefaultRule string `koanf:"default_rule" json:"default_rule"`

	// Rules 按服务名覆盖规则，值为规则名。
	Rules map[string]string `koanf:"rules" json:"rules"`

	Discovery Discovery `koanf:"discovery" json:"discovery"`
	Log       Log       `koanf:"log" json:"log"`
	Proxy     Proxy     `koanf:"proxy" json:"proxy"`
}

// Discovery 服务发现配置。
type Discovery struct {
	// Backend 取值 static 或 etcd，默认 static。
	Backend string `koanf:"backend" json:"backend"`

	// Static 静态实例表，服务名到实例列表。
	Static map[string][]StaticInstance `koanf:"static" json:"static"`

	Etcd Etcd `koanf:"etcd" json:"etcd"`
}

// StaticInstance 静态配置的一个实例。
type StaticInstance struct {
	ID       string            `koanf:"id" json:"id"`
	Host     string            `koanf:"host" json:"host"`
	Port     int               `koanf:"port" json:"port"`
	Metadata map[string]string `koanf:"metadata" json:"metadata"`
}

// Etcd etcd 后端配置。
type Etcd struct {
	Endpoints   []string      `koanf:"endpoints" json:"endpoints"`
	Username    string        `koanf:"username" json:"username"`
	Password    string        `koanf:"password" json:"-"`
	DialTimeout time.Duration `koanf:"dial_timeout" json:"dial_timeout"`

	// Prefix 实例注册的键前缀。
	Prefix string `koanf:"prefix" json:"prefix"`

	// CacheTTL 实例列表缓存时间，watch 事件会提前失效缓存。
	CacheTTL time.Duration `koanf:"cache_ttl" json:"cache_ttl"`

	// RegisterTTL 注册租约 TTL。
	RegisterTTL time.Duration `koanf:"register_ttl" json:"register_ttl"`
}

// Log 日志配置。
type Log struct {
	Level     string         `koanf:"level" json:"level"`
	Format    string         `koanf:"format" json:"format"`
	AddSource bool           `koanf:"add_source" json:"add_source"`
	Rotation  *xlog.Rotation `koanf:"rotation" json:"rotation"`
}

// Proxy 反向代理配置。
type Proxy struct {
	// Listen 代理监听地址。
	Listen string `koanf:"listen" json:"listen"`

	// MetricsListen 指标监听地址，为空时不暴露 /metrics。
	MetricsListen string `koanf:"metrics_listen" json:"metrics_listen"`

	// InheritGray 为 true 时出站请求继承入站请求携带的灰度标记。
	InheritGray bool `koanf:"inherit_gray" json:"inherit_gray"`

	// Passthrough 不经过负载均衡直接转发的主机名。
	Passthrough []string `koanf:"passthrough" json:"passthrough"`
}

// LoadBalancer 从 cfg 读取 Balancer，填充默认值并校验。
func LoadBalancer(cfg Config) (*Balancer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	b := &Balancer{}
	if err := cfg.Unmarshal("", b); err != nil {
		return nil, err
	}
	b.ApplyDefaults()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// ApplyDefaults 为未设置的字段填充默认值。
func (b *Balancer) ApplyDefaults() {
	if b.DefaultRule == "" {
		b.DefaultRule = DefaultRule
	}
	if b.Discovery.Backend == "" {
		b.Discovery.Backend = BackendStatic
	}

	e := &b.Discovery.Etcd
	if e.Prefix == "" {
		e.Prefix = DefaultEtcdPrefix
	}
	if e.DialTimeout <= 0 {
		e.DialTimeout = DefaultDialTimeout
	}
	if e.CacheTTL <= 0 {
		e.CacheTTL = DefaultCacheTTL
	}
	if e.RegisterTTL <= 0 {
		e.RegisterTTL = DefaultRegisterTTL
	}

	if b.Log.Level == "" {
		b.Log.Level = DefaultLogLevel
	}
	if b.Log.Format == "" {
		b.Log.Format = DefaultLogFormat
	}
	if b.Proxy.Listen == "" {
		b.Proxy.Listen = DefaultProxyListen
	}
}

// Validate 校验配置取值。规则名是否已注册由调用方在构建规则表时检查。
func (b *Balancer) Validate() error {
	for service, rule := range b.Rules {
		if service == "" || rule == "" {
			return fmt.Errorf("%w: rules entry %q=%q", ErrInvalidConfig, service, rule)
		}
	}

	if _, err := xlog.ParseLevel(b.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalidConfig, err)
	}
	if b.Log.Format != "text" && b.Log.Format != "json" {
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, b.Log.Format)
	}

	switch b.Discovery.Backend {
	case BackendStatic:
		return validateStatic(b.Discovery.Static)
	case BackendEtcd:
		if len(b.Discovery.Etcd.Endpoints) == 0 {
			return fmt.Errorf("%w: discovery.etcd.endpoints is empty", ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: discovery.backend %q", ErrInvalidConfig, b.Discovery.Backend)
	}
}

func validateStatic(static map[string][]StaticInstance) error {
	for service, list := range static {
		for i, inst := range list {
			if inst.Host == "" {
				return fmt.Errorf("%w: discovery.static.%s[%d]: empty host", ErrInvalidConfig, service, i)
			}
			if inst.Port <= 0 || inst.Port > maxPort {
				return fmt.Errorf("%w: discovery.static.%s[%d]: port %d out of range", ErrInvalidConfig, service, i, inst.Port)
			}
		}
	}
	return nil
}
