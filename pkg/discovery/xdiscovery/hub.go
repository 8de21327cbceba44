package xdiscovery

import (
	"context"
	"strings"
	"sync"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
)

// Watcher 推送服务实例快照。
type Watcher interface {
	// Watch 立即推送一次当前快照，之后每次变更推送一次；ctx 取消后关闭通道。
	Watch(ctx context.Context, service string) (<-chan []xbalance.Instance, error)
}

// Registry 是可被 Watch 的 Discovery。
type Registry interface {
	xbalance.Discovery
	Watcher
}

// subscriber 容量为 1 的快照通道，新快照覆盖未被读取的旧快照。
type subscriber struct {
	ch        chan []xbalance.Instance
	published bool // 已收到 publish，由 hub.mu 保护
}

func (s *subscriber) push(snapshot []xbalance.Instance) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snapshot
}

// hub 按服务名管理订阅者。push 与关闭都在 mu 下进行，不会向已关闭通道发送。
type hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*subscriber]struct{})}
}

// subscribe 注册订阅者并推送 initial，ctx 取消时注销并关闭通道。
func (h *hub) subscribe(ctx context.Context, service string, initial []xbalance.Instance) <-chan []xbalance.Instance {
	s := h.add(ctx, service)
	h.offer(service, s, initial)
	return s.ch
}

// add 注册一个尚无快照的订阅者，ctx 取消时注销并关闭通道。
func (h *hub) add(ctx context.Context, service string) *subscriber {
	s := &subscriber{ch: make(chan []xbalance.Instance, 1)}

	h.mu.Lock()
	set, ok := h.subs[service]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[service] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	context.AfterFunc(ctx, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[service], s)
		if len(h.subs[service]) == 0 {
			delete(h.subs, service)
		}
		close(s.ch)
	})
	return s
}

// offer 投递首个快照。s 已收到 publish 或已注销时丢弃。
func (h *hub) offer(service string, s *subscriber, initial []xbalance.Instance) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[service][s]; !ok || s.published {
		return
	}
	s.push(initial)
}

// publish 向 service 的每个订阅者推送一份独立副本。
func (h *hub) publish(service string, snapshot []xbalance.Instance) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[service] {
		s.published = true
		s.push(xbalance.CloneInstances(snapshot))
	}
}

func (h *hub) watched(service string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[service]) > 0
}

func validService(service string) bool {
	return service != "" && !strings.Contains(service, "/")
}
