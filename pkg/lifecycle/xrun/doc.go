// Package xrun 管理一组长期运行的服务：任一服务出错或父 context 取消时，
// 其余服务收到取消信号并优雅退出。
//
// graylbctl proxy 用它同时运行代理、指标端点、etcd watch 与配置监视：
//
//	g, ctx := xrun.NewGroup(ctx, xrun.WithName("proxy"), xrun.WithLogger(logger))
//	g.GoWithName("http", xrun.HTTPServer(srv, ln, 10*time.Second))
//	g.GoWithName("discovery", etcd.Run)
//	return g.Wait()
//
// 信号处理由调用方负责，通常是取消传给 NewGroup 的 ctx。
package xrun
