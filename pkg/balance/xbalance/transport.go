package xbalance

import (
	"net/http"
)

// TransportOption Transport 选项。
type TransportOption func(*Transport)

// WithPassthroughHosts 指定不做负载均衡、原样转发的主机名（如外部域名）。
func WithPassthroughHosts(hosts ...string) TransportOption {
	return func(t *Transport) {
		for _, h := range hosts {
			if h != "" {
				t.passthrough[h] = struct{}{}
			}
		}
	}
}

// Transport 负载均衡的 http.RoundTripper。
//
// 把请求 URL 的主机名视为逻辑服务名，由 Picker 选出实例后改写为实例地址：
//
//	http://svc-a/users  ->  http://10.0.0.2:8080/users
//
// 主机名带端口或属于 passthrough 集合时不改写。
// 通常位于 xroute.HTTPTransport 之后，这样规则能读到本次调用的灰度标记。
type Transport struct {
	picker      Picker
	next        http.RoundTripper
	passthrough map[string]struct{}
}

// NewTransport 创建 Transport。next 为 nil 时使用 http.DefaultTransport。
func NewTransport(picker Picker, next http.RoundTripper, opts ...TransportOption) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	t := &Transport{
		picker:      picker,
		next:        next,
		passthrough: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// RoundTrip 实现 http.RoundTripper。选择失败时直接返回错误，不发起请求。
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.shouldBalance(req) {
		return t.next.RoundTrip(req)
	}
	if t.picker == nil {
		closeBody(req)
		return nil, ErrNilPicker
	}

	inst, err := t.picker.Pick(req.Context(), req.URL.Hostname())
	if err != nil {
		closeBody(req)
		return nil, err
	}

	out := req.Clone(req.Context())
	out.URL = ReconstructURL(inst, req.URL)
	out.Host = ""
	return t.next.RoundTrip(out)
}

func (t *Transport) shouldBalance(req *http.Request) bool {
	if req.URL == nil || req.URL.Port() != "" {
		return false
	}
	_, skip := t.passthrough[req.URL.Hostname()]
	return !skip && req.URL.Hostname() != ""
}

// closeBody RoundTripper 在错误路径上也必须关闭请求体。
func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
