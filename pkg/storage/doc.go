// Package storage 提供数据存储相关的子包。
//
// 子包列表：
//   - xetcd: etcd v3 客户端封装，提供 KV、租约与可自动重连的 Watch
package storage
