package xroute_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/graylb/pkg/routing/xroute"
)

// =============================================================================
// Scope 基本操作
// =============================================================================

func TestScope_SetGetClear(t *testing.T) {
	var s xroute.Scope

	_, ok := s.Get(xroute.KeyGray)
	assert.False(t, ok, "未写入时应返回不存在")

	s.Set(xroute.KeyGray, xroute.ValueTrue)
	v, ok := s.Get(xroute.KeyGray)
	require.True(t, ok)
	assert.Equal(t, xroute.ValueTrue, v)
	assert.Equal(t, 1, s.Len())

	s.Clear()
	_, ok = s.Get(xroute.KeyGray)
	assert.False(t, ok, "Clear 后应返回不存在")
	assert.Equal(t, 0, s.Len())

	// 重复 Clear 是空操作
	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestScope_NilReceiver(t *testing.T) {
	var s *xroute.Scope
	assert.NotPanics(t, func() {
		s.Set("k", "v")
		s.Clear()
	})
	_, ok := s.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

// =============================================================================
// Context 操作
// =============================================================================

func TestGet_Absent(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
	}{
		{"nil context", nil},
		{"未携带 Scope", context.Background()},
		{"空 Scope", mustAcquire(t, context.Background())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := xroute.Get(tt.ctx, xroute.KeyGray)
			assert.False(t, ok)
			assert.Empty(t, v)
			assert.False(t, xroute.IsGray(tt.ctx))
		})
	}
}

func TestSet_LazyCreate(t *testing.T) {
	ctx := context.Background()
	_, ok := xroute.FromContext(ctx)
	require.False(t, ok)

	ctx2 := xroute.Set(ctx, xroute.KeyGray, xroute.ValueTrue)
	s, ok := xroute.FromContext(ctx2)
	require.True(t, ok, "首次写入应惰性创建 Scope")
	assert.Equal(t, 1, s.Len())
	assert.True(t, xroute.IsGray(ctx2))

	// 原 ctx 不受影响
	assert.False(t, xroute.IsGray(ctx))
}

func TestSet_ExistingScopeReturnsSameContext(t *testing.T) {
	ctx, release := xroute.Acquire(context.Background())
	defer release()

	got := xroute.Set(ctx, "zone", "a")
	assert.Equal(t, ctx, got, "已携带 Scope 时应原样返回 ctx")

	v, ok := xroute.Get(ctx, "zone")
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestSet_NilContext(t *testing.T) {
	//nolint:staticcheck // 验证 nil ctx 的兜底行为
	ctx := xroute.Set(nil, xroute.KeyGray, xroute.ValueTrue)
	require.NotNil(t, ctx)
	assert.True(t, xroute.IsGray(ctx))
}

func TestClear_Context(t *testing.T) {
	ctx := xroute.MarkGray(context.Background())
	require.True(t, xroute.IsGray(ctx))

	xroute.Clear(ctx)
	assert.False(t, xroute.IsGray(ctx), "Clear 后不应读到旧值")
	_, ok := xroute.Get(ctx, xroute.KeyGray)
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		xroute.Clear(context.Background())
		xroute.Clear(nil) //nolint:staticcheck // nil ctx 兜底
	})
}

func TestIsGray_OnlyExactTrue(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", false},
		{"True", false},
		{"1", false},
		{"yes", false},
		{"", false},
		{"false", false},
	}
	for _, tt := range tests {
		t.Run("value="+tt.value, func(t *testing.T) {
			ctx := xroute.Set(context.Background(), xroute.KeyGray, tt.value)
			assert.Equal(t, tt.want, xroute.IsGray(ctx))
		})
	}
}

// =============================================================================
// Acquire 与显式意图
// =============================================================================

func TestAcquire_InheritsParentGray(t *testing.T) {
	parent := xroute.MarkGray(context.Background())
	parent = xroute.Set(parent, "zone", "b")
	require.True(t, xroute.IsGray(parent))

	child, release := xroute.Acquire(parent)
	assert.True(t, xroute.IsGray(child), "上层仍持有的灰度标记保持不变")
	_, ok := xroute.Get(child, "zone")
	assert.False(t, ok, "其他键不带入")

	release()
	assert.False(t, xroute.IsGray(child))
	assert.True(t, xroute.IsGray(parent), "释放子 Scope 不影响父 Scope")
}

func TestAcquire_ClearedParentNotInherited(t *testing.T) {
	parent := xroute.MarkGray(context.Background())
	xroute.Clear(parent)

	child, release := xroute.Acquire(parent)
	defer release()
	assert.False(t, xroute.IsGray(child))

	xroute.MarkGray(child)
	assert.False(t, xroute.IsGray(parent), "子 Scope 的写入不影响父 Scope")
}

func TestAcquire_ReleaseClears(t *testing.T) {
	ctx, release := xroute.Acquire(context.Background())
	xroute.MarkGray(ctx)
	require.True(t, xroute.IsGray(ctx))

	release()
	assert.False(t, xroute.IsGray(ctx))

	// 多次 release 安全
	assert.NotPanics(t, release)
}

func TestAcquire_NilContext(t *testing.T) {
	ctx, release := xroute.Acquire(nil) //nolint:staticcheck // nil ctx 兜底
	defer release()
	require.NotNil(t, ctx)
	_, ok := xroute.FromContext(ctx)
	assert.True(t, ok)
}

func TestWithGray_SeedsEveryAcquiredScope(t *testing.T) {
	base := xroute.WithGray(context.Background())
	assert.True(t, xroute.IsGray(base), "无 Scope 时读取显式意图")

	for i := 0; i < 3; i++ {
		ctx, release := xroute.Acquire(base)
		assert.True(t, xroute.IsGray(ctx), "每次调用都继承意图")
		xroute.Clear(ctx)
		assert.False(t, xroute.IsGray(ctx), "清空后本次调用读不到意图")
		release()
	}
}

func TestWithoutGray(t *testing.T) {
	ctx := xroute.WithoutGray(xroute.WithGray(context.Background()))
	assert.False(t, xroute.IsGray(ctx))

	scoped, release := xroute.Acquire(ctx)
	defer release()
	assert.False(t, xroute.IsGray(scoped))
}

// =============================================================================
// Attributes
// =============================================================================

func TestWithAttributes_InstallOnce(t *testing.T) {
	ctx, a := xroute.WithAttributes(context.Background())
	require.NotNil(t, a)

	ctx2, a2 := xroute.WithAttributes(ctx)
	assert.Same(t, a, a2)
	assert.Equal(t, ctx, ctx2)

	a.Set(xroute.KeyGray, xroute.ValueTrue)
	assert.True(t, a.IsGray())
	assert.Equal(t, map[string]string{xroute.KeyGray: xroute.ValueTrue}, a.Snapshot())
}

func TestAttributes_NotClearedBySelection(t *testing.T) {
	ctx, attrs := xroute.WithAttributes(context.Background())
	attrs.Set(xroute.KeyGray, xroute.ValueTrue)

	scoped, release := xroute.Acquire(ctx)
	xroute.Clear(scoped)
	release()

	assert.True(t, attrs.IsGray())
}

func TestAttributes_NilReceiver(t *testing.T) {
	var a *xroute.Attributes
	assert.NotPanics(t, func() { a.Set("k", "v") })
	assert.False(t, a.IsGray())
	assert.Nil(t, a.Snapshot())
}

func mustAcquire(t *testing.T, ctx context.Context) context.Context {
	t.Helper()
	ctx, release := xroute.Acquire(ctx)
	t.Cleanup(release)
	return ctx
}
