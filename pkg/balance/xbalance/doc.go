// Package xbalance 提供客户端负载均衡：灰度感知的选择规则、显式实例选择器与 HTTP 负载均衡传输层。
//
// # 选择规则
//
// Rule 从服务的完整候选池中选出一个实例：
//   - GrayRule: 按实例元数据 gray == "true" 划分灰度/普通分区，
//     灰度调用（xroute.IsGray）只选灰度实例，其他调用只选普通实例，
//     目标分区为空时返回 ErrOutOfInstances，不回退
//   - RandomRule: 在全部候选中等概率选择
//
// 规则通过 RegisterRule/NewRule 按名称注册和构造，Balancer.SetRules 可以按服务切换。
// 所有内置规则返回前都会清空本次调用的路由上下文。
//
// # 负载均衡客户端
//
// Balancer 组合 Discovery 与规则表，Transport 将其接入 http.Client：
//
//	b, _ := xbalance.NewBalancer(discovery)
//	client := &http.Client{
//	    Transport: xroute.HTTPTransport(xbalance.NewTransport(b, nil)),
//	}
//	req.Header.Set("Gray", "true") // 路由到灰度实例
//
// Chooser 绕过路由上下文，直接在服务的全部实例中随机选择。
//
// # 错误
//
//   - ErrOutOfInstances: 目标分区为空
//   - ErrServiceNotFound: 服务发现没有返回实例（Chooser）
//
// 服务发现的错误原样包装返回。包内不重试，不替换默认实例。
package xbalance
