package xbalance

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/omeyang/graylb/pkg/observability/xmetrics"
	"github.com/omeyang/graylb/pkg/routing/xroute"
)

// 内置规则名称
const (
	RuleGray   = "gray"
	RuleRandom = "random"
)

const component = "xbalance"

// =============================================================================
// Rule
// =============================================================================

// Rule 选择规则：从服务的完整候选池中选出一个实例。
//
// 由负载均衡客户端（Balancer、xgrpclb picker）在每次出站调用时调用，
// ctx 携带本次调用的路由上下文（见 xroute）。实现必须并发安全。
type Rule interface {
	Choose(ctx context.Context, pool []Instance) (Instance, error)
}

// RuleFunc 函数适配器。
type RuleFunc func(ctx context.Context, pool []Instance) (Instance, error)

// Choose 实现 Rule。
func (f RuleFunc) Choose(ctx context.Context, pool []Instance) (Instance, error) {
	return f(ctx, pool)
}

// =============================================================================
// 规则注册表
// =============================================================================

// RuleFactory 按选项构造规则。
type RuleFactory func(opts ...Option) Rule

var registry = struct {
	mu        sync.RWMutex
	factories map[string]RuleFactory
}{
	factories: map[string]RuleFactory{
		RuleGray:   func(opts ...Option) Rule { return NewGrayRule(opts...) },
		RuleRandom: func(opts ...Option) Rule { return NewRandomRule(opts...) },
	},
}

// RegisterRule 按名称注册规则，之后可以通过配置按服务选择。
// 名称为空、工厂为 nil 或名称已存在时返回错误。
func RegisterRule(name string, factory RuleFactory) error {
	if name == "" {
		return ErrEmptyRuleName
	}
	if factory == nil {
		return ErrNilRuleFactory
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.factories[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRule, name)
	}
	registry.factories[name] = factory
	return nil
}

// NewRule 按名称构造已注册的规则。
func NewRule(name string, opts ...Option) (Rule, error) {
	registry.mu.RLock()
	factory, ok := registry.factories[name]
	registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, name)
	}
	return factory(opts...), nil
}

// RuleNames 返回已注册的规则名称（升序）。
func RuleNames() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return slices.Sorted(maps.Keys(registry.factories))
}

// =============================================================================
// GrayRule
// =============================================================================

// GrayRule 灰度感知的选择规则。
//
// 按元数据 gray == "true" 将候选池划分为灰度与普通两部分：
// 本次调用为灰度（xroute.IsGray）时从灰度分区等概率选择，否则从普通分区选择。
// 目标分区为空时返回 ErrOutOfInstances，不回退到另一个分区。
//
// 无论成功还是失败，返回前都会清空本次调用的路由上下文。
type GrayRule struct {
	opts *options
}

// NewGrayRule 创建灰度规则。
func NewGrayRule(opts ...Option) *GrayRule {
	return &GrayRule{opts: applyOptions(opts)}
}

// Choose 实现 Rule。
func (r *GrayRule) Choose(ctx context.Context, pool []Instance) (inst Instance, err error) {
	defer xroute.Clear(ctx)

	gray := xroute.IsGray(ctx)
	name, candidates := PartitionOf(pool).Select(gray)

	ctx, span := startChoose(ctx, r.opts, RuleGray, name, len(pool))
	defer func() { endChoose(span, inst, err) }()

	if len(candidates) == 0 {
		err = fmt.Errorf("%w: %s partition is empty (pool size %d)", ErrOutOfInstances, name, len(pool))
		r.opts.log().Warn(ctx, "no instance in target partition",
			slog.String("partition", name),
			slog.Int("pool_size", len(pool)),
		)
		return Instance{}, err
	}

	inst = pickUniform(r.opts.rand, candidates)
	r.opts.log().Debug(ctx, "instance selected",
		slog.String("rule", RuleGray),
		slog.String("partition", name),
		slog.String("instance", inst.Addr()),
	)
	return inst, nil
}

// =============================================================================
// RandomRule
// =============================================================================

// RandomRule 在整个候选池中等概率选择，不看灰度标记。
// 返回前同样清空路由上下文，保证替换规则后调用之间仍然隔离。
type RandomRule struct {
	opts *options
}

// NewRandomRule 创建随机规则。
func NewRandomRule(opts ...Option) *RandomRule {
	return &RandomRule{opts: applyOptions(opts)}
}

// Choose 实现 Rule。
func (r *RandomRule) Choose(ctx context.Context, pool []Instance) (inst Instance, err error) {
	defer xroute.Clear(ctx)

	ctx, span := startChoose(ctx, r.opts, RuleRandom, "all", len(pool))
	defer func() { endChoose(span, inst, err) }()

	if len(pool) == 0 {
		return Instance{}, fmt.Errorf("%w: pool is empty", ErrOutOfInstances)
	}
	inst = pickUniform(r.opts.rand, pool)
	r.opts.log().Debug(ctx, "instance selected",
		slog.String("rule", RuleRandom),
		slog.String("instance", inst.Addr()),
	)
	return inst, nil
}

// =============================================================================
// 观测
// =============================================================================

func startChoose(ctx context.Context, o *options, rule, partition string, poolSize int) (context.Context, xmetrics.Span) {
	return xmetrics.Start(ctx, o.observer, xmetrics.SpanOptions{
		Component: component,
		Operation: "choose",
		Kind:      xmetrics.KindInternal,
		Attrs: []xmetrics.Attr{
			xmetrics.String("rule", rule),
			xmetrics.String("partition", partition),
			xmetrics.Int("pool_size", poolSize),
		},
	})
}

func endChoose(span xmetrics.Span, inst Instance, err error) {
	result := xmetrics.Result{Err: err}
	if err == nil {
		result.Attrs = []xmetrics.Attr{
			xmetrics.String("instance", inst.Addr()),
			xmetrics.Bool("gray", inst.IsGray()),
		}
	}
	span.End(result)
}
