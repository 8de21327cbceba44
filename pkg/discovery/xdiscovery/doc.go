// Package xdiscovery 提供 xbalance.Discovery 的两种实现。
//
//   - Static：内存实例表，供配置中的 static 后端与测试使用
//   - Etcd：实例以 JSON 存放在 <prefix>/<service>/<host>:<port>，
//     通过租约注册，读路径带过期 LRU 缓存，Run 启动的 watch 循环在变更时失效缓存
//
// 两者都实现 Watcher：Watch 先推送当前快照，之后每次变更推送一份新快照。
// 订阅通道只保留最新快照，消费慢的订阅者会跳过中间状态。
//
// 返回的实例切片都是副本，调用方可以直接持有。
package xdiscovery
