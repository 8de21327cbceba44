package xdiscovery

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
)

// Static 并发安全的内存实例表。
type Static struct {
	mu        sync.RWMutex
	instances map[string][]xbalance.Instance
	hub       *hub
}

var _ Registry = (*Static)(nil)

// NewStatic 以 table 的副本初始化实例表，table 可以为 nil。
func NewStatic(table map[string][]xbalance.Instance) *Static {
	s := &Static{
		instances: make(map[string][]xbalance.Instance, len(table)),
		hub:       newHub(),
	}
	for service, list := range table {
		s.instances[service] = xbalance.CloneInstances(list)
	}
	return s
}

// Instances 返回服务实例的副本，未知服务返回空切片。
func (s *Static) Instances(_ context.Context, service string) ([]xbalance.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return xbalance.CloneInstances(s.instances[service]), nil
}

// Services 返回已知服务名，按字典序。
func (s *Static) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.instances))
	for name := range s.instances {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Set 替换服务的全部实例，instances 为空时删除该服务。
func (s *Static) Set(service string, instances []xbalance.Instance) error {
	if !validService(service) {
		return fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	for _, inst := range instances {
		if err := validateInstance(inst); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(instances) == 0 {
		delete(s.instances, service)
	} else {
		s.instances[service] = xbalance.CloneInstances(instances)
	}
	s.hub.publish(service, s.instances[service])
	return nil
}

// Add 添加实例，与已有实例 SameAs 时替换。
func (s *Static) Add(service string, inst xbalance.Instance) error {
	if !validService(service) {
		return fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	if err := validateInstance(inst); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.instances[service]
	idx := slices.IndexFunc(list, inst.SameAs)
	next := xbalance.CloneInstances(list)
	if idx >= 0 {
		next[idx] = inst.Clone()
	} else {
		next = append(next, inst.Clone())
	}
	s.instances[service] = next
	s.hub.publish(service, next)
	return nil
}

// Remove 删除与 inst SameAs 的实例，返回是否删除。
func (s *Static) Remove(service string, inst xbalance.Instance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.instances[service]
	idx := slices.IndexFunc(list, inst.SameAs)
	if idx < 0 {
		return false
	}
	next := slices.Delete(xbalance.CloneInstances(list), idx, idx+1)
	if len(next) == 0 {
		delete(s.instances, service)
	} else {
		s.instances[service] = next
	}
	s.hub.publish(service, next)
	return true
}

// Watch 实现 Watcher。
func (s *Static) Watch(ctx context.Context, service string) (<-chan []xbalance.Instance, error) {
	if !validService(service) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	// 持读锁订阅，保证初始快照与后续推送之间没有遗漏
	return s.hub.subscribe(ctx, service, xbalance.CloneInstances(s.instances[service])), nil
}

const maxPort = 65535

func validateInstance(inst xbalance.Instance) error {
	if inst.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidInstance)
	}
	if inst.Port <= 0 || inst.Port > maxPort {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidInstance, inst.Port)
	}
	return nil
}
