package xgrpclb

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/balancer"
	"google.golang.org/grpc/balancer/base"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
	"github.com/omeyang/graylb/pkg/routing/xroute"
)

// Name 默认负载均衡器名称，使用 xbalance.GrayRule。
const Name = "graylb_gray"

func init() {
	Register(Name, xbalance.NewGrayRule())
}

// Register 以 name 注册使用 rule 的负载均衡器。
// 与 balancer.Register 一样应在 init 中调用，同名注册会覆盖。
func Register(name string, rule xbalance.Rule) {
	balancer.Register(NewBuilder(name, rule))
}

// NewBuilder 返回基于 balancer/base 的构建器。
// pickerBuilder 无状态，多个 ClientConn 共享同一实例是安全的。
func NewBuilder(name string, rule xbalance.Rule) balancer.Builder {
	if rule == nil {
		rule = xbalance.NewGrayRule()
	}
	return base.NewBalancerBuilder(name, &pickerBuilder{rule: rule}, base.Config{HealthCheck: true})
}

// ServiceConfig 返回选用 name 负载均衡器的服务配置 JSON。
func ServiceConfig(name string) string {
	return fmt.Sprintf(`{"loadBalancingConfig":[{%q:{}}]}`, name)
}

type pickerBuilder struct {
	rule xbalance.Rule
}

// Build 用就绪连接构建 picker，连接变化时 base 会重新调用。
func (b *pickerBuilder) Build(info base.PickerBuildInfo) balancer.Picker {
	if len(info.ReadySCs) == 0 {
		return base.NewErrPicker(balancer.ErrNoSubConnAvailable)
	}

	p := &picker{
		rule:  b.rule,
		pool:  make([]xbalance.Instance, 0, len(info.ReadySCs)),
		conns: make(map[string]balancer.SubConn, len(info.ReadySCs)),
	}
	for sc, sci := range info.ReadySCs {
		inst, ok := InstanceFromAddress(sci.Address)
		if !ok {
			// 非本包解析器产生的地址：没有元数据，按普通实例处理
			inst = xbalance.Instance{Host: sci.Address.Addr}
		}
		key := sci.Address.Addr
		if _, dup := p.conns[key]; dup {
			continue
		}
		p.pool = append(p.pool, inst)
		p.conns[key] = sc
	}
	return p
}

type picker struct {
	rule  xbalance.Rule
	pool  []xbalance.Instance
	conns map[string]balancer.SubConn
}

// Pick 在子 Scope 上运行规则，不清空调用方（拦截器）持有的 Scope。
// 子 Scope 从调用方继承灰度标记，重试时的再次选择仍能看到它。
func (p *picker) Pick(info balancer.PickInfo) (balancer.PickResult, error) {
	ctx, release := xroute.Acquire(info.Ctx)
	defer release()

	inst, err := p.rule.Choose(ctx, p.pool)
	if err != nil {
		if errors.Is(err, xbalance.ErrOutOfInstances) {
			return balancer.PickResult{}, status.Error(codes.Unavailable, err.Error())
		}
		return balancer.PickResult{}, status.Error(codes.Internal, err.Error())
	}

	addr := inst.Host
	if inst.Port != 0 {
		addr = inst.Addr()
	}
	sc, ok := p.conns[addr]
	if !ok {
		return balancer.PickResult{}, status.Errorf(codes.Internal, "xgrpclb: rule returned unknown instance %s", addr)
	}
	return balancer.PickResult{SubConn: sc}, nil
}
