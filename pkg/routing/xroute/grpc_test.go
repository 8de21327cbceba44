package xroute_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/omeyang/graylb/pkg/routing/xroute"
)

// =============================================================================
// Metadata 提取
// =============================================================================

func TestExtractGrayFromMetadata(t *testing.T) {
	tests := []struct {
		name string
		md   metadata.MD
		want bool
	}{
		{"nil", nil, false},
		{"缺失", metadata.MD{}, false},
		{"true", metadata.Pairs(xroute.MetaGray, "true"), true},
		{"带空白", metadata.Pairs(xroute.MetaGray, " true"), true},
		{"大写值", metadata.Pairs(xroute.MetaGray, "TRUE"), false},
		{"大写 Key 被规范化", metadata.Pairs("Gray", "true"), true},
		{"false", metadata.Pairs(xroute.MetaGray, "false"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, xroute.ExtractGrayFromMetadata(tt.md))
		})
	}
}

// =============================================================================
// 客户端拦截器
// =============================================================================

func TestGRPCUnaryClientInterceptor(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want bool
	}{
		{"gray metadata", metadata.AppendToOutgoingContext(context.Background(), xroute.MetaGray, "true"), true},
		{"无 metadata", context.Background(), false},
		{"非法值", metadata.AppendToOutgoingContext(context.Background(), xroute.MetaGray, "yes"), false},
		{"显式意图", xroute.WithGray(context.Background()), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				seen    bool
				callCtx context.Context
			)
			invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
				callCtx = ctx
				seen = xroute.IsGray(ctx)
				return nil
			}

			err := xroute.GRPCUnaryClientInterceptor()(tt.ctx, "/svc.A/Call", nil, nil, nil, invoker)
			require.NoError(t, err)
			assert.Equal(t, tt.want, seen)
			assert.False(t, xroute.IsGray(callCtx), "调用返回后 Scope 已释放")
		})
	}
}

func TestGRPCUnaryClientInterceptor_PropagatesError(t *testing.T) {
	wantErr := errors.New("unavailable")
	invoker := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		return wantErr
	}
	err := xroute.GRPCUnaryClientInterceptor()(context.Background(), "/svc.A/Call", nil, nil, nil, invoker)
	assert.ErrorIs(t, err, wantErr)
}

func TestGRPCUnaryClientInterceptor_InheritGray(t *testing.T) {
	ctx, attrs := xroute.WithAttributes(context.Background())
	attrs.Set(xroute.KeyGray, xroute.ValueTrue)

	var seen bool
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		seen = xroute.IsGray(ctx)
		return nil
	}

	require.NoError(t, xroute.GRPCUnaryClientInterceptor()(ctx, "/m", nil, nil, nil, invoker))
	assert.False(t, seen)

	require.NoError(t, xroute.GRPCUnaryClientInterceptor(xroute.WithInheritGray())(ctx, "/m", nil, nil, nil, invoker))
	assert.True(t, seen)
}

func TestGRPCStreamClientInterceptor(t *testing.T) {
	var seen bool
	streamer := func(ctx context.Context, _ *grpc.StreamDesc, _ *grpc.ClientConn, _ string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
		seen = xroute.IsGray(ctx)
		return nil, nil
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), xroute.MetaGray, "true")
	_, err := xroute.GRPCStreamClientInterceptor()(ctx, &grpc.StreamDesc{}, nil, "/svc.A/Stream", streamer)
	require.NoError(t, err)
	assert.True(t, seen)

	_, err = xroute.GRPCStreamClientInterceptor()(context.Background(), &grpc.StreamDesc{}, nil, "/svc.A/Stream", streamer)
	require.NoError(t, err)
	assert.False(t, seen)
}

// =============================================================================
// 服务端拦截器
// =============================================================================

func TestGRPCUnaryServerInterceptor(t *testing.T) {
	tests := []struct {
		name string
		md   metadata.MD
		want bool
	}{
		{"灰度入站", metadata.Pairs(xroute.MetaGray, "true"), true},
		{"普通入站", metadata.MD{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(), tt.md)
			var got bool
			handler := func(ctx context.Context, _ any) (any, error) {
				attrs, ok := xroute.AttributesFromContext(ctx)
				require.True(t, ok)
				got = attrs.IsGray()
				return "ok", nil
			}

			resp, err := xroute.GRPCUnaryServerInterceptor()(ctx, nil, &grpc.UnaryServerInfo{}, handler)
			require.NoError(t, err)
			assert.Equal(t, "ok", resp)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func TestGRPCStreamServerInterceptor(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(xroute.MetaGray, "true"))
	var got bool
	handler := func(_ any, ss grpc.ServerStream) error {
		attrs, _ := xroute.AttributesFromContext(ss.Context())
		got = attrs.IsGray()
		return nil
	}

	err := xroute.GRPCStreamServerInterceptor()(nil, &fakeServerStream{ctx: ctx}, &grpc.StreamServerInfo{}, handler)
	require.NoError(t, err)
	assert.True(t, got)
}

// =============================================================================
// Metadata 注入
// =============================================================================

func TestInjectToOutgoingContext(t *testing.T) {
	t.Run("灰度调用", func(t *testing.T) {
		ctx := xroute.InjectToOutgoingContext(xroute.WithGray(context.Background()))
		md, ok := metadata.FromOutgoingContext(ctx)
		require.True(t, ok)
		assert.Equal(t, []string{"true"}, md.Get(xroute.MetaGray))
	})

	t.Run("重复注入不产生多值", func(t *testing.T) {
		ctx := xroute.WithGray(context.Background())
		ctx = xroute.InjectToOutgoingContext(ctx)
		ctx = xroute.InjectToOutgoingContext(ctx)
		md, _ := metadata.FromOutgoingContext(ctx)
		assert.Len(t, md.Get(xroute.MetaGray), 1)
	})

	t.Run("保留已有 metadata", func(t *testing.T) {
		ctx := metadata.AppendToOutgoingContext(xroute.WithGray(context.Background()), "x-other", "v")
		ctx = xroute.InjectToOutgoingContext(ctx)
		md, _ := metadata.FromOutgoingContext(ctx)
		assert.Equal(t, []string{"v"}, md.Get("x-other"))
		assert.Equal(t, []string{"true"}, md.Get(xroute.MetaGray))
	})

	t.Run("普通调用不注入", func(t *testing.T) {
		ctx := context.Background()
		assert.Equal(t, ctx, xroute.InjectToOutgoingContext(ctx))
	})
}
