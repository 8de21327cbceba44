package xetcd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	retry "github.com/avast/retry-go/v5"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/omeyang/graylb/pkg/observability/xlog"
)

// EventType 事件类型。
type EventType int

const (
	// EventPut 写入事件。
	EventPut EventType = iota
	// EventDelete 删除事件。
	EventDelete
	// EventUnknown 未知事件类型，防止新增的 etcd 事件类型被当作 Put。
	EventUnknown EventType = -1
)

// String 返回事件类型的字符串表示。
func (e EventType) String() string {
	switch e {
	case EventPut:
		return "PUT"
	case EventDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", e)
	}
}

// Event Watch 事件。
type Event struct {
	Type  EventType
	Key   string
	Value []byte // Delete 事件时为 nil

	// Revision 正常事件为键的修改版本号；
	// 错误事件为最后成功处理的版本号，0 表示尚未处理任何事件。
	Revision int64

	// CompactRevision 仅错误事件有意义，非 0 表示因 compaction 失败。
	CompactRevision int64

	// Error 非 nil 表示 Watch 失败，通道随后关闭。
	Error error
}

// DefaultWatchBufferSize 默认 Watch 事件通道缓冲区大小。
const DefaultWatchBufferSize = 256

type watchOptions struct {
	prefix     bool
	revision   int64
	bufferSize int
}

// WatchOption Watch 选项函数。
type WatchOption func(*watchOptions)

// WithPrefix 监听前缀下所有键的变化。
func WithPrefix() WatchOption {
	return func(o *watchOptions) {
		o.prefix = true
	}
}

// WithRevision 从指定版本开始 Watch。
func WithRevision(rev int64) WatchOption {
	return func(o *watchOptions) {
		o.revision = rev
	}
}

// WithBufferSize 设置事件通道缓冲区大小。
func WithBufferSize(size int) WatchOption {
	return func(o *watchOptions) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

func applyWatchOptions(opts []WatchOption) *watchOptions {
	o := &watchOptions{bufferSize: DefaultWatchBufferSize}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Watch 监听键值变化，ctx 取消或客户端关闭时关闭通道。
//
// 不自动重连：发生错误时发送一个 Error 非 nil 的事件后关闭通道。
// 需要重连时使用 WatchWithRetry。
func (c *Client) Watch(ctx context.Context, key string, opts ...WatchOption) (<-chan Event, error) {
	if err := c.checkPreconditions(ctx); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrEmptyKey
	}

	o := applyWatchOptions(opts)
	eventCh := make(chan Event, o.bufferSize)
	c.watchWg.Go(func() {
		defer close(eventCh)
		c.watchOnce(ctx, key, o, eventCh)
	})
	return eventCh, nil
}

// watchOnce 转发一次 etcd watch 的事件，返回最后转发的版本号以及结束原因：
// nil 表示 ctx 取消或客户端关闭，否则为断开错误。
func (c *Client) watchOnce(ctx context.Context, key string, o *watchOptions, out chan<- Event) (lastRev, compactRev int64, err error) {
	var etcdOpts []clientv3.OpOption
	if o.prefix {
		etcdOpts = append(etcdOpts, clientv3.WithPrefix())
	}
	if o.revision > 0 {
		etcdOpts = append(etcdOpts, clientv3.WithRev(o.revision))
	}

	// 客户端关闭时取消底层 watch
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchCh := c.client.Watch(clientv3.WithRequireLeader(wctx), key, etcdOpts...)

	for {
		select {
		case <-ctx.Done():
			return lastRev, 0, nil
		case <-c.closeCh:
			return lastRev, 0, nil
		case resp, ok := <-watchCh:
			if !ok {
				if ctx.Err() != nil {
					return lastRev, 0, nil
				}
				return lastRev, 0, c.sendError(ctx, out, ErrWatchDisconnected, lastRev, 0)
			}
			if werr := resp.Err(); werr != nil {
				return lastRev, resp.CompactRevision, c.sendError(ctx, out, werr, lastRev, resp.CompactRevision)
			}
			for _, ev := range resp.Events {
				event := convertEvent(ev)
				if event.Error != nil {
					continue
				}
				if !c.forward(ctx, out, event) {
					return lastRev, 0, nil
				}
				lastRev = event.Revision
			}
		}
	}
}

// sendError 发送错误事件并原样返回 err。
func (c *Client) sendError(ctx context.Context, out chan<- Event, err error, lastRev, compactRev int64) error {
	c.forward(ctx, out, Event{Error: err, Revision: lastRev, CompactRevision: compactRev})
	return err
}

// forward 返回 false 表示 ctx 取消或客户端关闭。
func (c *Client) forward(ctx context.Context, out chan<- Event, event Event) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	case <-c.closeCh:
		return false
	}
}

// convertEvent 将 etcd 事件转换为 Event，Kv 为 nil 时返回错误事件。
func convertEvent(ev *clientv3.Event) Event {
	if ev.Kv == nil {
		return Event{Type: EventUnknown, Error: errNilKv}
	}

	event := Event{
		Key:      string(ev.Kv.Key),
		Revision: ev.Kv.ModRevision,
	}
	switch ev.Type {
	case mvccpb.PUT:
		event.Type = EventPut
		event.Value = ev.Kv.Value
	case mvccpb.DELETE:
		event.Type = EventDelete
	default:
		event.Type = EventUnknown
		event.Value = ev.Kv.Value
	}
	return event
}

// =============================================================================
// WatchWithRetry 自动重连
// =============================================================================

// RetryConfig Watch 重连配置。零值字段使用默认值。
type RetryConfig struct {
	// InitialBackoff 初始退避，默认 1 秒。
	InitialBackoff time.Duration

	// MaxBackoff 最大退避，默认 30 秒。
	MaxBackoff time.Duration

	// MaxRetries 连续失败的最大重连次数，0 表示无限重连。
	// 成功转发过事件后计数清零。
	MaxRetries int

	// OnRetry 每次重连前在 watch goroutine 中调用，attempt 从 1 开始。
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig 返回默认的重连配置。
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

func (cfg RetryConfig) normalize() RetryConfig {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	cfg.MaxBackoff = max(cfg.MaxBackoff, cfg.InitialBackoff)
	cfg.MaxRetries = max(cfg.MaxRetries, 0)
	return cfg
}

// errWatchStopped 标记 ctx 取消或客户端关闭，终止重试。
var errWatchStopped = errors.New("xetcd: watch stopped")

// WatchWithRetry 带自动重连的 Watch。
//
// 断开后按指数退避（带抖动）重连，并从最后转发的版本号 +1 处恢复；
// compaction 导致的断开从压缩版本处恢复。返回的通道只在 ctx 取消、
// 客户端关闭或重连次数耗尽时关闭，耗尽时最后一个事件的 Error 为
// ErrMaxRetriesExceeded。
//
// 首次连接前没有转发过事件时，重连从当前时间点开始，断线窗口内的变更可能丢失；
// 需要严格连续时用 WithRevision 指定起点。
func (c *Client) WatchWithRetry(ctx context.Context, key string, cfg RetryConfig, opts ...WatchOption) (<-chan Event, error) {
	if err := c.checkPreconditions(ctx); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrEmptyKey
	}

	cfg = cfg.normalize()
	o := applyWatchOptions(opts)
	eventCh := make(chan Event, o.bufferSize)

	c.watchWg.Go(func() {
		defer close(eventCh)
		c.runWatchWithRetry(ctx, key, cfg, o, eventCh)
	})
	return eventCh, nil
}

func (c *Client) runWatchWithRetry(ctx context.Context, key string, cfg RetryConfig, o *watchOptions, out chan<- Event) {
	startRev := o.revision
	for {
		// 每个 retrier 覆盖一段连续失败；成功转发过事件的会话以 nil 结束，退避随之重置
		err := c.newWatchRetrier(ctx, cfg).Do(func() error {
			inner := make(chan Event, o.bufferSize)
			session := *o
			session.revision = startRev

			var (
				lastRev, compactRev int64
				werr                error
			)
			done := make(chan struct{})
			go func() {
				defer close(done)
				defer close(inner)
				lastRev, compactRev, werr = c.watchOnce(ctx, key, &session, inner)
			}()

			forwarded := false
			for event := range inner {
				if event.Error != nil {
					continue
				}
				if !c.forward(ctx, out, event) {
					break
				}
				forwarded = true
			}
			// inner 关闭前 watchOnce 已返回；forward 失败提前退出时排空
			for range inner {
			}
			<-done

			if lastRev > 0 {
				startRev = lastRev + 1
			}
			if compactRev > startRev {
				startRev = compactRev
			}
			if werr == nil || ctx.Err() != nil || c.closed.Load() {
				return retry.Unrecoverable(errWatchStopped)
			}
			if forwarded {
				return nil
			}
			return werr
		})
		if err == nil {
			continue
		}
		if errors.Is(err, errWatchStopped) || ctx.Err() != nil || c.closed.Load() {
			return
		}
		c.forward(ctx, out, Event{Error: fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err), Revision: max(startRev-1, 0)})
		return
	}
}

func (c *Client) newWatchRetrier(ctx context.Context, cfg RetryConfig) *retry.Retrier {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Delay(cfg.InitialBackoff),
		retry.MaxDelay(cfg.MaxBackoff),
		retry.MaxJitter(cfg.InitialBackoff / 5),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log().Warn(ctx, "etcd watch disconnected, reconnecting",
				slog.Uint64("attempt", uint64(n)+1), xlog.Err(err))
			if cfg.OnRetry != nil {
				cfg.OnRetry(int(n)+1, err)
			}
		}),
	}
	if cfg.MaxRetries == 0 {
		opts = append(opts, retry.UntilSucceeded())
	} else {
		// 首次尝试加 MaxRetries 次重连
		opts = append(opts, retry.Attempts(uint(cfg.MaxRetries)+1))
	}
	return retry.New(opts...)
}
