package xroute

import (
	"context"
	"sync"
)

// =============================================================================
// 路由键常量
// =============================================================================

const (
	// KeyGray 路由上下文中的灰度标记键
	KeyGray = "Gray"

	// ValueTrue 灰度标记的唯一有效值，其他任何值都视为非灰度
	ValueTrue = "true"
)

type (
	scopeKey  struct{}
	intentKey struct{}
)

// =============================================================================
// Scope 单次调用的路由上下文
// =============================================================================

// Scope 是一次出站调用的路由上下文（键值均为字符串）。
//
// Scope 通过 context.Context 传递，每次出站调用持有自己的实例，
// 不同调用之间互不可见。Clear 之后所有读取返回"不存在"。
//
// 所有方法并发安全；nil *Scope 的读操作返回零值，写操作被忽略。
type Scope struct {
	mu     sync.Mutex
	values map[string]string
}

// Set 写入键值。
func (s *Scope) Set(key, value string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.values == nil {
		s.values = make(map[string]string, 1)
	}
	s.values[key] = value
	s.mu.Unlock()
}

// Get 读取键值，ok 为 false 表示未设置。
func (s *Scope) Get(key string) (value string, ok bool) {
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	value, ok = s.values[key]
	s.mu.Unlock()
	return value, ok
}

// Clear 清空全部键值。可重复调用。
func (s *Scope) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.values = nil
	s.mu.Unlock()
}

// Len 返回当前键值数量。
func (s *Scope) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// =============================================================================
// Context 操作
// =============================================================================

// FromContext 返回 ctx 携带的 Scope。
func FromContext(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}

// Acquire 为一次出站调用创建新的 Scope 并返回释放函数。
//
// 新 Scope 替换 ctx 中已有的 Scope，本次调用的写入与清空不影响上层。
// 上层 Scope 仍持有灰度标记（尚未被 Clear）或 ctx 上有显式灰度意图（见 WithGray）时，
// 新 Scope 以灰度标记为初始值；上层的其他键不带入。
// release 清空 Scope，应通过 defer 调用，保证取消、超时、错误路径都能释放：
//
//	ctx, release := xroute.Acquire(ctx)
//	defer release()
//
// ctx 为 nil 时使用 context.Background()。
func Acquire(ctx context.Context) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Scope{}
	if grayIntent(ctx) || parentGray(ctx) {
		s.Set(KeyGray, ValueTrue)
	}
	return context.WithValue(ctx, scopeKey{}, s), s.Clear
}

// Set 在当前调用的 Scope 中写入键值。
//
// ctx 未携带 Scope 时惰性创建，并返回携带新 Scope 的 context；
// 已携带时直接写入并原样返回 ctx。
// 之后经 Acquire 派生的调用只继承灰度标记（KeyGray），其他键对其不可见。
func Set(ctx context.Context, key, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if s, ok := FromContext(ctx); ok {
		s.Set(key, value)
		return ctx
	}
	s := &Scope{}
	s.Set(key, value)
	return context.WithValue(ctx, scopeKey{}, s)
}

// Get 读取当前调用 Scope 中的键值。
// ctx 为 nil、未携带 Scope 或键未设置时 ok 为 false。
func Get(ctx context.Context, key string) (string, bool) {
	s, ok := FromContext(ctx)
	if !ok {
		return "", false
	}
	return s.Get(key)
}

// Clear 清空当前调用的 Scope。未携带 Scope 时为空操作。
func Clear(ctx context.Context) {
	if s, ok := FromContext(ctx); ok {
		s.Clear()
	}
}

// =============================================================================
// 灰度标记
// =============================================================================

// IsGray 判断本次调用是否为灰度调用。
//
// ctx 携带 Scope 时只看 Scope（Scope 被清空后返回 false）；
// 未携带 Scope 时退化为读取 WithGray 设置的显式意图。
func IsGray(ctx context.Context) bool {
	if s, ok := FromContext(ctx); ok {
		v, _ := s.Get(KeyGray)
		return v == ValueTrue
	}
	return grayIntent(ctx)
}

// MarkGray 在当前调用的 Scope 中写入灰度标记，语义同 Set(ctx, KeyGray, ValueTrue)。
func MarkGray(ctx context.Context) context.Context {
	return Set(ctx, KeyGray, ValueTrue)
}

// WithGray 在 ctx 上声明显式的灰度意图（调用点打标）。
//
// 与 MarkGray 不同，意图是不可变的 context 值，对由该 ctx 派生的每一次
// 出站调用都生效：Acquire 会把它作为新 Scope 的初始值。
func WithGray(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, intentKey{}, true)
}

// WithoutGray 撤销 ctx 上的显式灰度意图。
func WithoutGray(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, intentKey{}, false)
}

// parentGray 报告 ctx 已携带的 Scope 当前是否持有灰度标记。
func parentGray(ctx context.Context) bool {
	parent, ok := FromContext(ctx)
	if !ok {
		return false
	}
	v, _ := parent.Get(KeyGray)
	return v == ValueTrue
}

func grayIntent(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(intentKey{}).(bool)
	return v
}
