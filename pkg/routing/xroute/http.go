package xroute

import (
	"context"
	"net/http"
	"strings"
)

// =============================================================================
// HTTP Header 常量
// =============================================================================

// HeaderGray 携带灰度意图的 HTTP Header 名称，值为 "true" 时表示灰度调用
const HeaderGray = "Gray"

// =============================================================================
// HTTP Header 提取
// =============================================================================

// ExtractGrayFromHTTPHeader 判断 Header 是否声明了灰度调用。
//
// 只看第一个值，去除首尾空白后必须严格等于 "true"（大小写敏感）。
func ExtractGrayFromHTTPHeader(h http.Header) bool {
	if h == nil {
		return false
	}
	return strings.TrimSpace(h.Get(HeaderGray)) == ValueTrue
}

// =============================================================================
// 出站传输层拦截器（Variant A）
// =============================================================================

// TransportOption HTTPTransport 选项
type TransportOption func(*transportConfig)

type transportConfig struct {
	inheritGray bool
}

// WithInheritGray 出站请求未携带灰度 Header 时，继承入站请求的灰度标记。
//
// 入站标记来自 HTTPMiddleware / GRPCUnaryServerInterceptor 安装的 Attributes，
// 或同一 handler 中较早的灰度出站调用。默认关闭。
func WithInheritGray() TransportOption {
	return func(cfg *transportConfig) {
		cfg.inheritGray = true
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// HTTPTransport 返回识别灰度流量的 http.RoundTripper。
//
// 每个出站请求获得独立的 Scope（见 Acquire）：
//   - Header "Gray: true" 存在时，写入 Scope 灰度标记，并在入站 Attributes 上留下标记
//   - 不存在时不写入（除非启用 WithInheritGray 且入站请求是灰度）
//
// 请求本身不被修改或拒绝，原样交给 next 执行；next 通常是 xbalance.Transport，
// 由其中的选择规则消费并清空 Scope。RoundTrip 返回时释放本次获取的 Scope。
// next 为 nil 时使用 http.DefaultTransport。
//
//	client := &http.Client{
//	    Transport: xroute.HTTPTransport(xbalance.NewTransport(balancer, nil)),
//	}
func HTTPTransport(next http.RoundTripper, opts ...TransportOption) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	cfg := &transportConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		ctx, release := Acquire(req.Context())
		defer release()

		markFromSignal(ctx, ExtractGrayFromHTTPHeader(req.Header), cfg.inheritGray)

		return next.RoundTrip(req.WithContext(ctx))
	})
}

// markFromSignal 根据入站信号写入 Scope，两种拦截器共用。
func markFromSignal(ctx context.Context, gray, inherit bool) {
	attrs, _ := AttributesFromContext(ctx)
	switch {
	case gray:
		MarkGray(ctx)
		attrs.Set(KeyGray, ValueTrue)
	case inherit && attrs.IsGray():
		MarkGray(ctx)
	}
}

// =============================================================================
// 入站 HTTP 中间件
// =============================================================================

// HTTPMiddleware 返回入站 HTTP 中间件。
//
// 为每个入站请求安装 Attributes，并记录入站 Header 中的灰度标记。
// 中间件本身不写入任何 Scope：入站请求不是出站调用。
func HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, attrs := WithAttributes(r.Context())
			if ExtractGrayFromHTTPHeader(r.Header) {
				attrs.Set(KeyGray, ValueTrue)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// =============================================================================
// HTTP Header 注入
// =============================================================================

// InjectToRequest 当 ctx 表示灰度调用（IsGray 或入站 Attributes 为灰度）时，
// 在出站请求上设置 "Gray: true"，用于把灰度意图传给下游服务。
func InjectToRequest(ctx context.Context, req *http.Request) {
	if req == nil {
		return
	}
	attrs, _ := AttributesFromContext(ctx)
	if !IsGray(ctx) && !attrs.IsGray() {
		return
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set(HeaderGray, ValueTrue)
}
