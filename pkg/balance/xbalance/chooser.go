package xbalance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/omeyang/graylb/pkg/observability/xmetrics"
)

// Chooser 显式选择实例：查询服务发现后在全部实例中等概率选择。
//
// 不读取也不清空路由上下文，用于调用方绕过自动负载均衡、
// 拿到实例后自行发起请求的场景（例如定制传输参数的一次性调用）：
//
//	inst, err := chooser.Choose(ctx, "svc-a")
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Get(inst.URL("http").JoinPath("hello").String())
type Chooser struct {
	discovery Discovery
	opts      *options
}

// NewChooser 创建 Chooser。discovery 为 nil 时返回 ErrNilDiscovery。
func NewChooser(discovery Discovery, opts ...Option) (*Chooser, error) {
	if discovery == nil {
		return nil, ErrNilDiscovery
	}
	return &Chooser{discovery: discovery, opts: applyOptions(opts)}, nil
}

// Choose 为 service 选出一个实例。
// 服务发现没有返回实例时返回 ErrServiceNotFound，服务发现的错误包装后返回。
func (c *Chooser) Choose(ctx context.Context, service string) (inst Instance, err error) {
	ctx, span := xmetrics.Start(ctx, c.opts.observer, xmetrics.SpanOptions{
		Component: component,
		Operation: "choose_instance",
		Kind:      xmetrics.KindInternal,
		Attrs:     []xmetrics.Attr{xmetrics.String("service", service)},
	})
	defer func() { endChoose(span, inst, err) }()

	pool, err := c.discovery.Instances(ctx, service)
	if err != nil {
		return Instance{}, fmt.Errorf("xbalance: discover %q: %w", service, err)
	}
	if len(pool) == 0 {
		return Instance{}, fmt.Errorf("%w: %q", ErrServiceNotFound, service)
	}

	inst = pickUniform(c.opts.rand, pool)
	c.opts.log().Debug(ctx, "instance chosen",
		slog.String("service", service),
		slog.String("instance", inst.Addr()),
	)
	return inst, nil
}

// Pick 实现 Picker，等价于 Choose。
func (c *Chooser) Pick(ctx context.Context, service string) (Instance, error) {
	return c.Choose(ctx, service)
}
