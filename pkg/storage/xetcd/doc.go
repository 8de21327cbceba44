// Package xetcd 提供 etcd 客户端封装，供 etcd 服务发现后端使用。
//
// 提供：
//   - KV 操作：Get/Put/Delete，以及带集群修订号的前缀 List
//   - 租约：PutWithLease 写入带 TTL 的键，KeepAlive 持续续约，Revoke 主动注销
//   - Watch：单次 Watch 与基于 retry-go 指数退避的 WatchWithRetry
//
// List 返回的修订号与 WithRevision(rev+1) 配合，可以做到"先全量读取再增量监听"
// 而不遗漏两者之间的变更。
package xetcd
