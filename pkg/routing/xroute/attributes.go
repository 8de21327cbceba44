package xroute

import (
	"context"
	"maps"
	"sync"
)

type attributesKey struct{}

// Attributes 入站请求（服务端处理上下文）的属性存储。
//
// 生命周期与一次入站请求相同，由 HTTPMiddleware / GRPCUnaryServerInterceptor 安装。
// 出站拦截器识别到灰度调用时会在这里留下标记，供同一 handler 内后续的
// 出站调用继承（见 WithInheritGray）。与 Scope 不同，Attributes 不会被选择过程清空。
type Attributes struct {
	mu     sync.RWMutex
	values map[string]string
}

// Set 写入属性。
func (a *Attributes) Set(key, value string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.values == nil {
		a.values = make(map[string]string, 1)
	}
	a.values[key] = value
	a.mu.Unlock()
}

// Get 读取属性。
func (a *Attributes) Get(key string) (string, bool) {
	if a == nil {
		return "", false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[key]
	return v, ok
}

// Snapshot 返回属性副本。
func (a *Attributes) Snapshot() map[string]string {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.values)
}

// IsGray 判断入站请求是否已被标记为灰度。
func (a *Attributes) IsGray() bool {
	v, _ := a.Get(KeyGray)
	return v == ValueTrue
}

// WithAttributes 为入站请求安装新的属性存储。
// ctx 已携带 Attributes 时原样返回（同一请求只安装一次）。
func WithAttributes(ctx context.Context) (context.Context, *Attributes) {
	if ctx == nil {
		ctx = context.Background()
	}
	if a, ok := AttributesFromContext(ctx); ok {
		return ctx, a
	}
	a := &Attributes{}
	return context.WithValue(ctx, attributesKey{}, a), a
}

// AttributesFromContext 返回入站请求的属性存储。
func AttributesFromContext(ctx context.Context) (*Attributes, bool) {
	if ctx == nil {
		return nil, false
	}
	a, ok := ctx.Value(attributesKey{}).(*Attributes)
	return a, ok && a != nil
}
