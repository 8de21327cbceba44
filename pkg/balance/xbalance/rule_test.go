package xbalance_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
	"github.com/omeyang/graylb/pkg/routing/xroute"
)

const trials = 500

// grayCall 返回一次灰度调用的 ctx（模拟传播拦截器写入 Scope）。
func grayCall(t *testing.T) context.Context {
	t.Helper()
	ctx, release := xroute.Acquire(context.Background())
	t.Cleanup(release)
	return xroute.MarkGray(ctx)
}

func normalCall(t *testing.T) context.Context {
	t.Helper()
	ctx, release := xroute.Acquire(context.Background())
	t.Cleanup(release)
	return ctx
}

// =============================================================================
// GrayRule 选择语义
// =============================================================================

func TestGrayRule_GrayCallOnlyGrayInstances(t *testing.T) {
	rule := xbalance.NewGrayRule(xbalance.WithLogger(discardLogger()))
	seen := map[string]int{}

	for i := 0; i < trials; i++ {
		inst, err := rule.Choose(grayCall(t), mixedPool())
		require.NoError(t, err)
		require.True(t, inst.IsGray(), "灰度调用不应选到普通实例: %s", inst.Addr())
		seen[inst.Addr()]++
	}

	assert.Len(t, seen, 2, "每个灰度实例都应被选中过")
	assert.Positive(t, seen[gray1.Addr()])
	assert.Positive(t, seen[gray2.Addr()])
}

func TestGrayRule_NormalCallOnlyNormalInstances(t *testing.T) {
	rule := xbalance.NewGrayRule(xbalance.WithLogger(discardLogger()))
	seen := map[string]int{}

	for i := 0; i < trials; i++ {
		inst, err := rule.Choose(normalCall(t), mixedPool())
		require.NoError(t, err)
		require.False(t, inst.IsGray(), "普通调用不应选到灰度实例: %s", inst.Addr())
		seen[inst.Addr()]++
	}

	assert.Positive(t, seen[normal1.Addr()])
	assert.Positive(t, seen[normal2.Addr()])
}

func TestGrayRule_AbsentEqualsFalse(t *testing.T) {
	rule := xbalance.NewGrayRule(xbalance.WithLogger(discardLogger()))

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{"未携带 Scope", context.Background()},
		{"空 Scope", normalCall(t)},
		{"非法取值", xroute.Set(context.Background(), xroute.KeyGray, "TRUE")},
		{"撤销意图", xroute.WithoutGray(xroute.WithGray(context.Background()))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				inst, err := rule.Choose(tt.ctx, mixedPool())
				require.NoError(t, err)
				assert.False(t, inst.IsGray())
			}
		})
	}
}

func TestGrayRule_ConcreteScenario(t *testing.T) {
	rule := xbalance.NewGrayRule(xbalance.WithLogger(discardLogger()))
	pool := []xbalance.Instance{
		{Host: "10.0.0.1", Port: 8080, Metadata: map[string]string{}},
		{Host: "10.0.0.2", Port: 8080, Metadata: map[string]string{"gray": "true"}},
	}

	for i := 0; i < 100; i++ {
		inst, err := rule.Choose(normalCall(t), pool)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1", inst.Host)

		inst, err = rule.Choose(grayCall(t), pool)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.2", inst.Host)
	}
}

func TestGrayRule_EmptyPartitionNoFallback(t *testing.T) {
	rule := xbalance.NewGrayRule(xbalance.WithLogger(discardLogger()))

	tests := []struct {
		name      string
		ctx       context.Context
		pool      []xbalance.Instance
		partition string
	}{
		{"灰度调用只有普通实例", grayCall(t), []xbalance.Instance{normal1, normal2}, "gray"},
		{"普通调用只有灰度实例", normalCall(t), []xbalance.Instance{gray1}, "normal"},
		{"空池灰度", grayCall(t), nil, "gray"},
		{"空池普通", normalCall(t), nil, "normal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := rule.Choose(tt.ctx, tt.pool)
			require.Error(t, err)
			assert.True(t, xbalance.IsOutOfInstances(err))
			assert.ErrorIs(t, err, xbalance.ErrOutOfInstances)
			assert.Contains(t, err.Error(), tt.partition)
			assert.Equal(t, xbalance.Instance{}, inst, "错误时不返回实例")
		})
	}
}

// =============================================================================
// 清理
// =============================================================================

func TestGrayRule_ClearsScope(t *testing.T) {
	rule := xbalance.NewGrayRule(xbalance.WithLogger(discardLogger()))

	t.Run("成功路径", func(t *testing.T) {
		ctx := grayCall(t)
		_, err := rule.Choose(ctx, mixedPool())
		require.NoError(t, err)
		_, ok := xroute.Get(ctx, xroute.KeyGray)
		assert.False(t, ok)
	})

	t.Run("错误路径", func(t *testing.T) {
		ctx := grayCall(t)
		_, err := rule.Choose(ctx, []xbalance.Instance{normal1})
		require.ErrorIs(t, err, xbalance.ErrOutOfInstances)
		_, ok := xroute.Get(ctx, xroute.KeyGray)
		assert.False(t, ok)
	})

	t.Run("同一 Scope 的下一次选择回到普通分区", func(t *testing.T) {
		ctx := grayCall(t)
		first, err := rule.Choose(ctx, mixedPool())
		require.NoError(t, err)
		assert.True(t, first.IsGray())

		second, err := rule.Choose(ctx, mixedPool())
		require.NoError(t, err)
		assert.False(t, second.IsGray(), "清空后不应读到上一次的标记")
	})
}

func TestGrayRule_ConcurrentIsolation(t *testing.T) {
	rule := xbalance.NewGrayRule(xbalance.WithLogger(discardLogger()), xbalance.WithRand(xbalance.NewRand(1)))
	const n = 200

	var wg sync.WaitGroup
	errs := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(gray bool) {
			defer wg.Done()
			ctx, release := xroute.Acquire(context.Background())
			defer release()
			if gray {
				xroute.MarkGray(ctx)
			}
			inst, err := rule.Choose(ctx, mixedPool())
			if err != nil {
				errs <- err.Error()
				return
			}
			if inst.IsGray() != gray {
				errs <- "cross-contamination: " + inst.Addr()
			}
		}(i%2 == 0)
	}
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
}

// =============================================================================
// RandomRule
// =============================================================================

func TestRandomRule(t *testing.T) {
	rule := xbalance.NewRandomRule(xbalance.WithLogger(discardLogger()))
	seen := map[string]int{}

	ctx := grayCall(t)
	for i := 0; i < trials; i++ {
		inst, err := rule.Choose(ctx, mixedPool())
		require.NoError(t, err)
		seen[inst.Addr()]++
	}
	assert.Len(t, seen, 4, "随机规则不区分灰度")
	assert.False(t, xroute.IsGray(ctx), "随机规则同样清空 Scope")

	_, err := rule.Choose(context.Background(), nil)
	assert.ErrorIs(t, err, xbalance.ErrOutOfInstances)
}

// =============================================================================
// 注册表
// =============================================================================

func TestRuleRegistry(t *testing.T) {
	names := xbalance.RuleNames()
	assert.Contains(t, names, xbalance.RuleGray)
	assert.Contains(t, names, xbalance.RuleRandom)

	r, err := xbalance.NewRule(xbalance.RuleGray)
	require.NoError(t, err)
	assert.IsType(t, &xbalance.GrayRule{}, r)

	r, err = xbalance.NewRule(xbalance.RuleRandom)
	require.NoError(t, err)
	assert.IsType(t, &xbalance.RandomRule{}, r)

	_, err = xbalance.NewRule("weighted")
	assert.ErrorIs(t, err, xbalance.ErrUnknownRule)
}

func TestRegisterRule(t *testing.T) {
	first := xbalance.RuleFunc(func(_ context.Context, pool []xbalance.Instance) (xbalance.Instance, error) {
		return pool[0], nil
	})
	factory := func(...xbalance.Option) xbalance.Rule { return first }

	require.NoError(t, xbalance.RegisterRule("test-first", factory))
	assert.ErrorIs(t, xbalance.RegisterRule("test-first", factory), xbalance.ErrDuplicateRule)
	assert.ErrorIs(t, xbalance.RegisterRule("", factory), xbalance.ErrEmptyRuleName)
	assert.ErrorIs(t, xbalance.RegisterRule("test-nil", nil), xbalance.ErrNilRuleFactory)

	r, err := xbalance.NewRule("test-first")
	require.NoError(t, err)
	inst, err := r.Choose(context.Background(), mixedPool())
	require.NoError(t, err)
	assert.Equal(t, normal1, inst)
	assert.Contains(t, xbalance.RuleNames(), "test-first")
}

func TestNewRand_Deterministic(t *testing.T) {
	a, b := xbalance.NewRand(99), xbalance.NewRand(99)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.IntN(10), b.IntN(10))
	}
}
