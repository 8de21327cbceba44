package xgrpclb

import (
	"google.golang.org/grpc"

	"github.com/omeyang/graylb/pkg/discovery/xdiscovery"
	"github.com/omeyang/graylb/pkg/observability/xlog"
	"github.com/omeyang/graylb/pkg/routing/xroute"
)

type dialConfig struct {
	balancerName string
	logger       xlog.Logger
	interceptor  []xroute.ClientInterceptorOption
}

// DialOption 配置 DialOptions。
type DialOption func(*dialConfig)

// WithBalancerName 使用通过 Register 注册的其他负载均衡器。
func WithBalancerName(name string) DialOption {
	return func(c *dialConfig) {
		if name != "" {
			c.balancerName = name
		}
	}
}

// WithLogger 设置解析器日志。
func WithLogger(l xlog.Logger) DialOption {
	return func(c *dialConfig) {
		c.logger = l
	}
}

// WithInheritGray 出站 RPC 没有 gray metadata 时继承入站请求的灰度标记。
func WithInheritGray() DialOption {
	return func(c *dialConfig) {
		c.interceptor = append(c.interceptor, xroute.WithInheritGray())
	}
}

// DialOptions 返回接入灰度负载均衡所需的 grpc.DialOption：
// 解析器、服务配置以及 xroute 的客户端拦截器。
func DialOptions(w xdiscovery.Watcher, opts ...DialOption) []grpc.DialOption {
	cfg := &dialConfig{balancerName: Name}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return []grpc.DialOption{
		grpc.WithResolvers(NewResolverBuilder(w, cfg.logger)),
		grpc.WithDefaultServiceConfig(ServiceConfig(cfg.balancerName)),
		grpc.WithChainUnaryInterceptor(xroute.GRPCUnaryClientInterceptor(cfg.interceptor...)),
		grpc.WithChainStreamInterceptor(xroute.GRPCStreamClientInterceptor(cfg.interceptor...)),
	}
}
