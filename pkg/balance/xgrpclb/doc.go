// Package xgrpclb 把灰度路由接入 gRPC 客户端负载均衡。
//
//   - 解析器（scheme "graylb"）订阅 xdiscovery.Watcher，把实例快照发布为
//     resolver.Address，实例元数据放在 Address.Attributes 中
//   - 负载均衡器 "graylb_gray" 基于 balancer/base：picker 用就绪连接对应的实例
//     组成实例池，把选择委托给 xbalance.Rule，路由上下文取自 PickInfo.Ctx
//
// 路由上下文由 xroute 的 gRPC 客户端拦截器根据 outgoing metadata 中的 "gray" 建立，
// DialOptions 一次性装配解析器、服务配置和拦截器：
//
//	conn, err := grpc.NewClient(xgrpclb.Target("orders"),
//	    append(xgrpclb.DialOptions(discovery),
//	        grpc.WithTransportCredentials(insecure.NewCredentials()))...)
//
// 每次 Pick 在独立的子 Scope 上运行规则，规则清空的是子 Scope，
// 同一 RPC 因连接切换而重新 Pick 时仍能读到拦截器写入的标记。
package xgrpclb
