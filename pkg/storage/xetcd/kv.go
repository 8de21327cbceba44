package xetcd

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/omeyang/graylb/pkg/observability/xlog"
)

// LeaseID etcd 租约 ID。
type LeaseID = clientv3.LeaseID

// KeyValue 是带修订号的键值对。
type KeyValue struct {
	Key         string
	Value       []byte
	ModRevision int64
}

// Get 获取键值，键不存在返回 ErrKeyNotFound。
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if err := c.checkPreconditions(ctx); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrEmptyKey
	}

	resp, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("xetcd: get %q: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrKeyNotFound
	}
	return resp.Kvs[0].Value, nil
}

// Put 写入键值。
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	if err := c.checkPreconditions(ctx); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}

	if _, err := c.client.Put(ctx, key, string(value)); err != nil {
		return fmt.Errorf("xetcd: put %q: %w", key, err)
	}
	return nil
}

// PutWithLease 申请 ttl 租约并写入键值，返回租约 ID 供 KeepAlive/Revoke 使用。
// ttl 向上取整到秒，最小 1 秒。Put 失败时撤销已申请的租约。
func (c *Client) PutWithLease(ctx context.Context, key string, value []byte, ttl time.Duration) (LeaseID, error) {
	if err := c.checkPreconditions(ctx); err != nil {
		return 0, err
	}
	if key == "" {
		return 0, ErrEmptyKey
	}

	ttlSeconds := max(int64(math.Ceil(ttl.Seconds())), 1)
	lease, err := c.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return 0, fmt.Errorf("xetcd: grant lease: %w", err)
	}

	if _, err := c.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		c.tryRevokeLease(lease.ID)
		return 0, fmt.Errorf("xetcd: put %q with lease: %w", key, err)
	}
	return lease.ID, nil
}

// KeepAlive 持续续约直到 ctx 取消或客户端关闭，此时返回 nil。
// 续约通道在 ctx 仍有效时关闭表示租约已丢失，返回 ErrLeaseExpired。
func (c *Client) KeepAlive(ctx context.Context, id LeaseID) error {
	if err := c.checkPreconditions(ctx); err != nil {
		return err
	}

	ch, err := c.client.KeepAlive(ctx, id)
	if err != nil {
		return fmt.Errorf("xetcd: keepalive lease %x: %w", int64(id), err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closeCh:
			return nil
		case _, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %x", ErrLeaseExpired, int64(id))
			}
		}
	}
}

// Revoke 撤销租约，绑定的键随之删除。
func (c *Client) Revoke(ctx context.Context, id LeaseID) error {
	if err := c.checkPreconditions(ctx); err != nil {
		return err
	}
	if _, err := c.client.Revoke(ctx, id); err != nil {
		return fmt.Errorf("xetcd: revoke lease %x: %w", int64(id), err)
	}
	return nil
}

// Delete 删除键值，键不存在时不返回错误。
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.checkPreconditions(ctx); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}

	if _, err := c.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("xetcd: delete %q: %w", key, err)
	}
	return nil
}

// List 列出前缀下的所有键值（按键排序），同时返回读取时的集群修订号，
// 调用方可用 WithRevision(rev+1) 从该点开始 Watch 而不丢事件。
//
// 一次性加载全部结果，前缀下键很多时请用 RawClient 自行分页。
func (c *Client) List(ctx context.Context, prefix string) ([]KeyValue, int64, error) {
	if err := c.checkPreconditions(ctx); err != nil {
		return nil, 0, err
	}
	if prefix == "" {
		return nil, 0, ErrEmptyKey
	}

	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, 0, fmt.Errorf("xetcd: list %q: %w", prefix, err)
	}

	kvs := make([]KeyValue, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		kvs = append(kvs, KeyValue{Key: string(kv.Key), Value: kv.Value, ModRevision: kv.ModRevision})
	}
	var rev int64
	if resp.Header != nil {
		rev = resp.Header.Revision
	}
	return kvs, rev, nil
}

const revokeLeaseTimeout = 3 * time.Second

// tryRevokeLease 尽力撤销租约，失败时租约会自行过期。
func (c *Client) tryRevokeLease(id LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), revokeLeaseTimeout)
	defer cancel()
	if _, err := c.client.Revoke(ctx, id); err != nil {
		c.log().Warn(ctx, "revoke lease failed", slog.Int64("lease", int64(id)), xlog.Err(err))
	}
}
