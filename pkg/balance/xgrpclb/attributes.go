package xgrpclb

import (
	"maps"

	"google.golang.org/grpc/attributes"
	"google.golang.org/grpc/resolver"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
)

type instanceKey struct{}

// instanceAttr 包装 Instance。元数据 map 不可比较，需要 Equal 供 gRPC 比较地址。
type instanceAttr struct {
	inst xbalance.Instance
}

func (a instanceAttr) Equal(o any) bool {
	other, ok := o.(instanceAttr)
	if !ok {
		return false
	}
	return a.inst.ID == other.inst.ID &&
		a.inst.SameAs(other.inst) &&
		maps.Equal(a.inst.Metadata, other.inst.Metadata)
}

// AddressOf 把实例转换为 resolver.Address，元数据变化会产生不同的地址。
func AddressOf(inst xbalance.Instance) resolver.Address {
	return resolver.Address{
		Addr:       inst.Addr(),
		Attributes: attributes.New(instanceKey{}, instanceAttr{inst: inst.Clone()}),
	}
}

// InstanceFromAddress 取回 AddressOf 写入的实例。
func InstanceFromAddress(addr resolver.Address) (xbalance.Instance, bool) {
	v, ok := addr.Attributes.Value(instanceKey{}).(instanceAttr)
	if !ok {
		return xbalance.Instance{}, false
	}
	return v.inst.Clone(), true
}
