package xbalance

import "context"

//go:generate mockgen -source=discovery.go -destination=mock_discovery_test.go -package=xbalance_test

// Discovery 服务发现协作者。
//
// Instances 返回服务当前可达的实例快照，可以为空。
// 实现应返回副本：调用方在一次选择期间直接读取，不加锁。
type Discovery interface {
	Instances(ctx context.Context, service string) ([]Instance, error)
}

// DiscoveryFunc 函数适配器。
type DiscoveryFunc func(ctx context.Context, service string) ([]Instance, error)

// Instances 实现 Discovery。
func (f DiscoveryFunc) Instances(ctx context.Context, service string) ([]Instance, error) {
	return f(ctx, service)
}

// Picker 为一次出站调用选出目标实例。Balancer 与 Chooser 都实现此接口。
type Picker interface {
	Pick(ctx context.Context, service string) (Instance, error)
}
