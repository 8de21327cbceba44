// Package xroute 提供请求级路由上下文（灰度标记）的存储与传播。
//
// # 核心概念
//
//   - Scope: 单次出站调用的路由上下文，键值均为字符串，随 context.Context 传递。
//     选择规则读取后立即清空，清空后的读取一律返回"不存在"。
//   - Attributes: 入站请求（服务端处理上下文）的属性存储，生命周期与入站请求相同。
//   - 显式意图: WithGray(ctx) 在调用点打标，对由该 ctx 派生的每次出站调用生效。
//
// 路由上下文不存放在任何进程级的共享 map 中：每次出站调用通过 Acquire
// 获得独立的 Scope，并发执行的调用之间天然隔离。
//
// # 传输协议
//
// HTTP Header：
//   - Gray: "true" 表示灰度调用，其他值或缺失表示普通调用
//
// gRPC Metadata：
//   - gray: "true"
//
// # 拦截点
//
// HTTP 客户端使用 HTTPTransport 包装 RoundTripper，gRPC 客户端使用
// GRPCUnaryClientInterceptor / GRPCStreamClientInterceptor：
//
//	client := &http.Client{
//	    Transport: xroute.HTTPTransport(xbalance.NewTransport(balancer, nil)),
//	}
//
//	conn, err := grpc.NewClient("graylb:///svc-a",
//	    grpc.WithChainUnaryInterceptor(xroute.GRPCUnaryClientInterceptor()),
//	)
//
// 拦截器只写入 Scope，从不拒绝或改写请求。清空由 xbalance 的选择规则负责；
// 拦截器在调用返回时释放自己获取的 Scope，覆盖选择从未发生的情况（如调用在选择前被取消）。
//
// 服务端使用 HTTPMiddleware / GRPCUnaryServerInterceptor 安装 Attributes，
// 出站拦截器配合 WithInheritGray 可以让灰度入站请求的下游调用继续走灰度实例。
//
// # 线程安全
//
// 所有导出函数和类型的方法都是并发安全的。
package xroute
