package xbalance

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"

	"github.com/omeyang/graylb/pkg/routing/xroute"
)

// ruleTable 默认规则与按服务覆盖的规则，整体替换，不原地修改。
type ruleTable struct {
	def        Rule
	perService map[string]Rule
}

// Balancer 负载均衡客户端：查询服务发现，再交给服务对应的规则选择。
//
// 规则表通过 SetRules 原子替换（配置热更新），进行中的选择使用替换前的规则表。
type Balancer struct {
	discovery Discovery
	opts      *options
	rules     atomic.Pointer[ruleTable]
}

// NewBalancer 创建 Balancer。默认规则为 GrayRule（可通过 WithDefaultRule 修改）。
func NewBalancer(discovery Discovery, opts ...Option) (*Balancer, error) {
	if discovery == nil {
		return nil, ErrNilDiscovery
	}
	o := applyOptions(opts)
	b := &Balancer{discovery: discovery, opts: o}
	b.SetRules(o.defaultRule, nil)
	return b, nil
}

// SetRules 原子替换规则表。def 为 nil 时使用 GrayRule；perService 会被复制。
func (b *Balancer) SetRules(def Rule, perService map[string]Rule) {
	if def == nil {
		def = &GrayRule{opts: b.opts}
	}
	b.rules.Store(&ruleTable{def: def, perService: maps.Clone(perService)})
}

// RuleFor 返回 service 当前使用的规则。
func (b *Balancer) RuleFor(service string) Rule {
	t := b.rules.Load()
	if r, ok := t.perService[service]; ok && r != nil {
		return r
	}
	return t.def
}

// Pick 为一次出站调用选出 service 的目标实例。
//
// 服务发现失败时规则不会执行，路由上下文同样在返回前清空。
func (b *Balancer) Pick(ctx context.Context, service string) (Instance, error) {
	defer xroute.Clear(ctx)

	pool, err := b.discovery.Instances(ctx, service)
	if err != nil {
		b.opts.log().Warn(ctx, "discovery failed",
			slog.String("service", service),
			slog.Any("error", err),
		)
		return Instance{}, fmt.Errorf("xbalance: discover %q: %w", service, err)
	}

	inst, err := b.RuleFor(service).Choose(ctx, pool)
	if err != nil {
		return Instance{}, fmt.Errorf("xbalance: pick %q: %w", service, err)
	}
	return inst, nil
}
