package xroute

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// =============================================================================
// gRPC Metadata 常量
// =============================================================================

// MetaGray 携带灰度意图的 gRPC Metadata Key（gRPC 要求小写）
const MetaGray = "gray"

// =============================================================================
// gRPC Metadata 提取
// =============================================================================

// ExtractGrayFromMetadata 判断 Metadata 是否声明了灰度调用。
// 只看第一个值，去除首尾空白后必须严格等于 "true"。
func ExtractGrayFromMetadata(md metadata.MD) bool {
	if md == nil {
		return false
	}
	values := md.Get(MetaGray)
	if len(values) == 0 {
		return false
	}
	return strings.TrimSpace(values[0]) == ValueTrue
}

// =============================================================================
// gRPC 客户端拦截器（Variant B）
// =============================================================================

// ClientInterceptorOption gRPC 客户端拦截器选项
type ClientInterceptorOption = TransportOption

// GRPCUnaryClientInterceptor 返回 gRPC 客户端一元拦截器。
//
// 与 HTTPTransport 契约相同，信号来源是 outgoing metadata 中的 "gray"。
// invoker 在同一 ctx 上完成负载均衡选择（xgrpclb 的 picker 读取 Scope）。
func GRPCUnaryClientInterceptor(opts ...ClientInterceptorOption) grpc.UnaryClientInterceptor {
	cfg := &transportConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		callOpts ...grpc.CallOption,
	) error {
		ctx, release := Acquire(ctx)
		defer release()

		md, _ := metadata.FromOutgoingContext(ctx)
		markFromSignal(ctx, ExtractGrayFromMetadata(md), cfg.inheritGray)

		return invoker(ctx, method, req, reply, cc, callOpts...)
	}
}

// GRPCStreamClientInterceptor 返回 gRPC 客户端流式拦截器。
//
// 负载均衡选择发生在 streamer 建流期间，streamer 返回后即释放 Scope。
func GRPCStreamClientInterceptor(opts ...ClientInterceptorOption) grpc.StreamClientInterceptor {
	cfg := &transportConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		callOpts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		ctx, release := Acquire(ctx)
		defer release()

		md, _ := metadata.FromOutgoingContext(ctx)
		markFromSignal(ctx, ExtractGrayFromMetadata(md), cfg.inheritGray)

		return streamer(ctx, desc, cc, method, callOpts...)
	}
}

// =============================================================================
// gRPC 服务端拦截器
// =============================================================================

// GRPCUnaryServerInterceptor 返回 gRPC 服务端一元拦截器。
// 为每个入站调用安装 Attributes，并记录 incoming metadata 中的灰度标记。
func GRPCUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		return handler(withIncomingAttributes(ctx), req)
	}
}

// GRPCStreamServerInterceptor 返回 gRPC 服务端流式拦截器。
func GRPCStreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		_ *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx := withIncomingAttributes(ss.Context())
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func withIncomingAttributes(ctx context.Context) context.Context {
	ctx, attrs := WithAttributes(ctx)
	if md, ok := metadata.FromIncomingContext(ctx); ok && ExtractGrayFromMetadata(md) {
		attrs.Set(KeyGray, ValueTrue)
	}
	return ctx
}

// wrappedServerStream 包装 ServerStream 以覆盖 Context
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context 返回包装后的 context
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

// =============================================================================
// gRPC Metadata 注入
// =============================================================================

// InjectToOutgoingContext 当 ctx 表示灰度调用时，在 outgoing metadata 上设置 "gray: true"。
func InjectToOutgoingContext(ctx context.Context) context.Context {
	attrs, _ := AttributesFromContext(ctx)
	if !IsGray(ctx) && !attrs.IsGray() {
		return ctx
	}
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.New(nil)
	}
	md.Set(MetaGray, ValueTrue)
	return metadata.NewOutgoingContext(ctx, md)
}
