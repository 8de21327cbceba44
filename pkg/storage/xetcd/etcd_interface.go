package xetcd

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// etcdClient 是 Client 依赖的 etcd 操作子集，方法签名与 clientv3 一致。
// 测试中用内存实现替换。
type etcdClient interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)

	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error)

	Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan

	Close() error
}

var _ etcdClient = (*clientv3.Client)(nil)
