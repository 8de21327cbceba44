package xbalance_test

import (
	"context"
	"io"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
	"github.com/omeyang/graylb/pkg/observability/xlog"
)

// splitmix64 确定性的公平生成器，固定种子使统计断言可复现。
type splitmix64 struct {
	state uint64
}

func (s *splitmix64) IntN(n int) int {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return int(z % uint64(n))
}

var (
	normal1 = xbalance.Instance{Host: "10.0.0.1", Port: 8080}
	gray1   = xbalance.Instance{Host: "10.0.0.2", Port: 8080, Metadata: map[string]string{"gray": "true"}}
	normal2 = xbalance.Instance{Host: "10.0.0.3", Port: 8080, Metadata: map[string]string{"gray": "false"}}
	gray2   = xbalance.Instance{Host: "10.0.0.4", Port: 8080, Metadata: map[string]string{"gray": "true", "zone": "b"}}
)

func mixedPool() []xbalance.Instance {
	return []xbalance.Instance{normal1, gray1, normal2, gray2}
}

func staticDiscovery(pools map[string][]xbalance.Instance) xbalance.Discovery {
	return xbalance.DiscoveryFunc(func(_ context.Context, service string) ([]xbalance.Instance, error) {
		return xbalance.CloneInstances(pools[service]), nil
	})
}

func discardLogger() xlog.Logger {
	logger, _, err := xlog.New().SetOutput(io.Discard).SetLevel(xlog.LevelDebug).Build()
	if err != nil {
		return xlog.Default()
	}
	return logger
}
