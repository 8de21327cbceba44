// Package xconf 加载 graylb 的配置文件，基于 koanf 实现。
//
// # 支持的格式
//
//   - YAML：.yaml, .yml
//   - JSON：.json
//
// # 并发安全
//
// Reload 通过互斥锁串行化，解析成功后用 atomic.Pointer 原子替换 koanf 实例，
// 解析失败时旧配置保持不变。Client 返回的指针在 Reload 后仍指向旧快照，
// 需要最新配置时每次调用 Client。
//
// # 业务配置
//
// Balancer 描述负载均衡器的完整配置：默认规则、按服务覆盖的规则、
// 服务发现后端（static 或 etcd）、日志和代理监听地址。
//
//	cfg, err := xconf.New("graylb.yaml")
//	if err != nil {
//	    return err
//	}
//	b, err := xconf.LoadBalancer(cfg)
//
// # 配置监视
//
// Watch 基于 fsnotify 监视配置文件所在目录，内置防抖，兼容编辑器原子写入。
// 从字节创建的 Config 不支持监视。
package xconf
