package xetcd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/omeyang/graylb/pkg/observability/xlog"
)

// Client etcd 客户端封装，提供 KV、租约和 Watch 操作。
//
// Client 是并发安全的。
type Client struct {
	client    etcdClient
	rawClient *clientv3.Client
	logger    xlog.Logger

	closed  atomic.Bool
	closeCh chan struct{}
	watchWg sync.WaitGroup
}

// NewClient 创建 etcd 客户端。
//
// 错误：
//   - ErrNilConfig: config 为 nil
//   - ErrNoEndpoints / ErrInvalidEndpoint: endpoint 配置有误
//   - 连接或健康检查错误
func NewClient(config *Config, opts ...Option) (*Client, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	cfg := config.applyDefaults()

	// keepalive 只通过 DialOptions 设置，PermitWithoutStream 只能在这里控制
	rawClient, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TLS:         o.tlsConfig,
		DialOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                cfg.DialKeepAliveTime,
				Timeout:             cfg.DialKeepAliveTimeout,
				PermitWithoutStream: cfg.PermitWithoutStream,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("xetcd: create client: %w", err)
	}

	c := newClient(rawClient, o)
	c.rawClient = rawClient

	if o.healthCheck {
		if err := c.healthCheck(o); err != nil {
			return nil, errors.Join(err, rawClient.Close())
		}
	}
	return c, nil
}

func newClient(backend etcdClient, o *options) *Client {
	return &Client{
		client:  backend,
		logger:  o.logger,
		closeCh: make(chan struct{}),
	}
}

// healthCheck 读取一次健康检查 key，失败时指数退避重试。
func (c *Client) healthCheck(o *options) error {
	ctx, cancel := context.WithTimeout(o.ctx, o.healthTimeout)
	defer cancel()

	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(o.healthCheckTries),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	).Do(func() error {
		_, err := c.client.Get(ctx, o.healthCheckKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("xetcd: health check failed: %w", err)
	}
	return nil
}

// RawClient 返回原生 etcd 客户端，用于事务等未封装的操作。
func (c *Client) RawClient() *clientv3.Client {
	return c.rawClient
}

// Close 通知所有 Watch goroutine 退出、等待其结束，再关闭连接。
// 重复调用返回 nil。
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.closeCh)
	c.watchWg.Wait()
	return c.client.Close()
}

func (c *Client) log() xlog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return xlog.Default()
}

func (c *Client) checkPreconditions(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	if c.closed.Load() {
		return ErrClientClosed
	}
	return ctx.Err()
}
