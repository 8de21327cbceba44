package xgrpclb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/grpc/resolver"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
	"github.com/omeyang/graylb/pkg/discovery/xdiscovery"
	"github.com/omeyang/graylb/pkg/observability/xlog"
)

// Scheme 解析器 scheme。
const Scheme = "graylb"

// Target 返回服务对应的 dial 目标，如 graylb:///orders。
func Target(service string) string {
	return Scheme + ":///" + service
}

// ResolverBuilder 基于 xdiscovery.Watcher 的 resolver.Builder。
type ResolverBuilder struct {
	watcher xdiscovery.Watcher
	logger  xlog.Logger
}

var _ resolver.Builder = (*ResolverBuilder)(nil)

// NewResolverBuilder 创建解析器构建器，通过 grpc.WithResolvers 注入。
func NewResolverBuilder(w xdiscovery.Watcher, logger xlog.Logger) *ResolverBuilder {
	return &ResolverBuilder{watcher: w, logger: logger}
}

// Scheme 实现 resolver.Builder。
func (b *ResolverBuilder) Scheme() string {
	return Scheme
}

// Build 订阅目标服务，每份快照都整体替换 ClientConn 的地址列表。
func (b *ResolverBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	if b.watcher == nil {
		return nil, ErrNilWatcher
	}
	service := strings.Trim(target.Endpoint(), "/")
	if service == "" {
		return nil, ErrEmptyService
	}

	ctx, cancel := context.WithCancel(context.Background())
	snapshots, err := b.watcher.Watch(ctx, service)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("xgrpclb: watch %q: %w", service, err)
	}

	r := &grayResolver{
		service: service,
		cc:      cc,
		logger:  b.logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.run(ctx, snapshots)
	return r, nil
}

type grayResolver struct {
	service string
	cc      resolver.ClientConn
	logger  xlog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func (r *grayResolver) log() xlog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return xlog.Default()
}

func (r *grayResolver) run(ctx context.Context, snapshots <-chan []xbalance.Instance) {
	defer close(r.done)
	for snapshot := range snapshots {
		if len(snapshot) == 0 {
			r.cc.ReportError(fmt.Errorf("%w: %s", ErrNoInstances, r.service))
			continue
		}
		addrs := make([]resolver.Address, 0, len(snapshot))
		for _, inst := range snapshot {
			addrs = append(addrs, AddressOf(inst))
		}
		if err := r.cc.UpdateState(resolver.State{Addresses: addrs}); err != nil {
			r.log().Debug(ctx, "resolver state rejected", xlog.Service(r.service), xlog.Err(err))
			continue
		}
		r.log().Debug(ctx, "resolver state updated", xlog.Service(r.service), slog.Int("instances", len(addrs)))
	}
}

// ResolveNow 快照由 Watch 推送，无需主动刷新。
func (*grayResolver) ResolveNow(resolver.ResolveNowOptions) {}

// Close 取消订阅并等待推送 goroutine 退出。
func (r *grayResolver) Close() {
	r.cancel()
	<-r.done
}
