package xdiscovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
	"github.com/omeyang/graylb/pkg/observability/xlog"
	"github.com/omeyang/graylb/pkg/storage/xetcd"
)

// Store 是 Etcd 需要的存储操作，*xetcd.Client 实现了它。
type Store interface {
	List(ctx context.Context, prefix string) ([]xetcd.KeyValue, int64, error)
	PutWithLease(ctx context.Context, key string, value []byte, ttl time.Duration) (xetcd.LeaseID, error)
	KeepAlive(ctx context.Context, id xetcd.LeaseID) error
	Revoke(ctx context.Context, id xetcd.LeaseID) error
	Delete(ctx context.Context, key string) error
	WatchWithRetry(ctx context.Context, key string, cfg xetcd.RetryConfig, opts ...xetcd.WatchOption) (<-chan xetcd.Event, error)
}

var _ Store = (*xetcd.Client)(nil)

// Etcd 基于 etcd 的服务注册与发现。
//
// 实例以 JSON 存放在 <prefix>/<service>/<host>:<port>。Instances 读缓存，
// 未命中时 List 前缀并回填；Run 监听整个前缀，任一键变化都使对应服务的缓存失效，
// 并向该服务的 Watch 订阅者推送新快照。
type Etcd struct {
	store  Store
	opts   etcdOptions
	prefix string // 去掉末尾 "/"
	cache  *snapshotCache
	hub    *hub
}

var _ Registry = (*Etcd)(nil)

// NewEtcd 创建 Etcd，使用完毕后调用 Close。
func NewEtcd(store Store, opts ...EtcdOption) (*Etcd, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	o := etcdOptions{
		prefix:      DefaultPrefix,
		cacheTTL:    DefaultCacheTTL,
		cacheSize:   DefaultCacheSize,
		registerTTL: DefaultRegisterTTL,
		retry:       xetcd.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Etcd{
		store:  store,
		opts:   o,
		prefix: strings.TrimRight(o.prefix, "/"),
		cache:  newSnapshotCache(o.cacheSize, o.cacheTTL),
		hub:    newHub(),
	}, nil
}

// Close 释放缓存。不关闭 Store。
func (e *Etcd) Close() {
	e.cache.close()
}

func (e *Etcd) log() xlog.Logger {
	if e.opts.logger != nil {
		return e.opts.logger
	}
	return xlog.Default()
}

// Key 返回实例的注册键。
func (e *Etcd) Key(service string, inst xbalance.Instance) string {
	return e.servicePrefix(service) + inst.Addr()
}

func (e *Etcd) servicePrefix(service string) string {
	return e.prefix + "/" + service + "/"
}

// serviceOf 从注册键解析服务名。
func (e *Etcd) serviceOf(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, e.prefix+"/")
	if !ok {
		return "", false
	}
	service, _, ok := strings.Cut(rest, "/")
	return service, ok && service != ""
}

// Instances 实现 xbalance.Discovery。
func (e *Etcd) Instances(ctx context.Context, service string) ([]xbalance.Instance, error) {
	if !validService(service) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	if snapshot, ok := e.cache.get(service); ok {
		return xbalance.CloneInstances(snapshot), nil
	}

	gen := e.cache.generation(service)
	snapshot, err := e.load(ctx, service)
	if err != nil {
		return nil, err
	}
	e.cache.setIfCurrent(service, snapshot, gen)
	return xbalance.CloneInstances(snapshot), nil
}

// load 从 etcd 读取服务的全部实例，跳过无法解析的值。
func (e *Etcd) load(ctx context.Context, service string) ([]xbalance.Instance, error) {
	kvs, _, err := e.store.List(ctx, e.servicePrefix(service))
	if err != nil {
		return nil, fmt.Errorf("xdiscovery: list %q: %w", service, err)
	}

	snapshot := make([]xbalance.Instance, 0, len(kvs))
	for _, kv := range kvs {
		var inst xbalance.Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			e.log().Warn(ctx, "skip malformed instance",
				xlog.Service(service), slog.String("key", kv.Key), xlog.Err(err))
			continue
		}
		snapshot = append(snapshot, inst)
	}
	return snapshot, nil
}

// Register 以租约写入实例，返回租约 ID。调用方用 KeepAlive 维持注册。
func (e *Etcd) Register(ctx context.Context, service string, inst xbalance.Instance) (xetcd.LeaseID, error) {
	if !validService(service) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	if err := validateInstance(inst); err != nil {
		return 0, err
	}
	value, err := json.Marshal(inst)
	if err != nil {
		return 0, fmt.Errorf("xdiscovery: encode instance: %w", err)
	}

	key := e.Key(service, inst)
	lease, err := e.store.PutWithLease(ctx, key, value, e.opts.registerTTL)
	if err != nil {
		return 0, fmt.Errorf("xdiscovery: register %s: %w", key, err)
	}
	e.cache.invalidate(service)
	e.log().Info(ctx, "instance registered",
		xlog.Service(service), xlog.Instance(inst.Addr()), slog.Bool("gray", inst.IsGray()))
	return lease, nil
}

// KeepAlive 维持注册租约，直到 ctx 取消（返回 nil）或租约丢失。
func (e *Etcd) KeepAlive(ctx context.Context, lease xetcd.LeaseID) error {
	return e.store.KeepAlive(ctx, lease)
}

// Deregister 删除实例的注册键。lease 非 0 时同时撤销租约。
func (e *Etcd) Deregister(ctx context.Context, service string, inst xbalance.Instance, lease xetcd.LeaseID) error {
	if !validService(service) {
		return fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	key := e.Key(service, inst)
	err := e.store.Delete(ctx, key)
	if lease != 0 {
		err = errors.Join(err, e.store.Revoke(ctx, lease))
	}
	e.cache.invalidate(service)
	if err != nil {
		return fmt.Errorf("xdiscovery: deregister %s: %w", key, err)
	}
	e.log().Info(ctx, "instance deregistered", xlog.Service(service), xlog.Instance(inst.Addr()))
	return nil
}

// Watch 实现 Watcher，需要 Run 在运行才能收到后续变更。
//
// 先注册订阅者再加载首个快照：加载期间发生的变更由 Run 推送，
// 且首个快照只在尚未收到推送时投递，不会覆盖更新的快照。
func (e *Etcd) Watch(ctx context.Context, service string) (<-chan []xbalance.Instance, error) {
	if !validService(service) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	subCtx, cancel := context.WithCancel(ctx)
	s := e.hub.add(subCtx, service)

	initial, err := e.Instances(subCtx, service)
	if err != nil {
		cancel()
		return nil, err
	}
	e.hub.offer(service, s, initial)
	context.AfterFunc(ctx, cancel)
	return s.ch, nil
}

// Run 监听整个前缀直到 ctx 取消。
// 断线由 WatchWithRetry 从最后的修订号续接；每次退避重连时清空缓存。
func (e *Etcd) Run(ctx context.Context) error {
	retryCfg := e.opts.retry
	userOnRetry := retryCfg.OnRetry
	retryCfg.OnRetry = func(attempt int, err error) {
		e.cache.purge()
		if userOnRetry != nil {
			userOnRetry(attempt, err)
		}
	}

	events, err := e.store.WatchWithRetry(ctx, e.prefix+"/", retryCfg, xetcd.WithPrefix())
	if err != nil {
		return fmt.Errorf("xdiscovery: watch %s: %w", e.prefix, err)
	}

	for ev := range events {
		if ev.Error != nil {
			// 仅在重连次数耗尽时出现，通道随后关闭
			return fmt.Errorf("xdiscovery: watch %s: %w", e.prefix, ev.Error)
		}
		service, ok := e.serviceOf(ev.Key)
		if !ok {
			continue
		}
		e.cache.invalidate(service)
		e.log().Debug(ctx, "instance changed",
			xlog.Service(service), slog.String("key", ev.Key), slog.String("event", ev.Type.String()))
		e.refresh(ctx, service)
	}
	return nil
}

// refresh 为有订阅者的服务重新加载并推送快照。
func (e *Etcd) refresh(ctx context.Context, service string) {
	if !e.hub.watched(service) {
		return
	}
	snapshot, err := e.Instances(ctx, service)
	if err != nil {
		if ctx.Err() == nil {
			e.log().Warn(ctx, "refresh watched service failed", xlog.Service(service), xlog.Err(err))
		}
		return
	}
	e.hub.publish(service, snapshot)
}
