package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
	"github.com/omeyang/graylb/pkg/config/xconf"
	"github.com/omeyang/graylb/pkg/discovery/xdiscovery"
	"github.com/omeyang/graylb/pkg/observability/xlog"
	"github.com/omeyang/graylb/pkg/storage/xetcd"
)

// runtime 是一次命令执行期间共享的组件：配置、日志与服务发现。
type runtime struct {
	source xconf.Config
	cfg    *xconf.Balancer
	logger xlog.LoggerWithLevel

	registry xdiscovery.Registry
	static   *xdiscovery.Static // backend 为 static 时非 nil
	etcd     *xdiscovery.Etcd   // backend 为 etcd 时非 nil

	closers []func() error
}

// newRuntime 按全局 flag 加载配置并组装运行时组件。
func newRuntime(ctx context.Context, cmd *cli.Command) (*runtime, error) {
	source, err := loadSource(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	cfg, err := xconf.LoadBalancer(source)
	if err != nil {
		return nil, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		if _, err := xlog.ParseLevel(lvl); err != nil {
			return nil, newUsageError("无效的日志级别 %q", lvl)
		}
		cfg.Log.Level = lvl
	}

	rt := &runtime{source: source, cfg: cfg}
	logger, cleanup, err := buildLogger(cfg.Log, errWriter(cmd))
	if err != nil {
		return nil, err
	}
	rt.logger = logger
	rt.closers = append(rt.closers, cleanup)

	if err := rt.buildDiscovery(ctx, cmd.Duration("timeout")); err != nil {
		return nil, errors.Join(err, rt.Close())
	}
	return rt, nil
}

// loadSource 读取配置文件，path 为空时返回空配置（全部取默认值）。
func loadSource(path string) (xconf.Config, error) {
	if path == "" {
		return xconf.NewFromBytes(nil, xconf.FormatYAML)
	}
	return xconf.New(path)
}

// buildLogger 按日志配置构建 Logger，未配置轮转时写入 w。
func buildLogger(cfg xconf.Log, w io.Writer) (xlog.LoggerWithLevel, func() error, error) {
	b := xlog.New().
		SetOutput(w).
		SetLevelString(cfg.Level).
		SetFormat(cfg.Format).
		SetAddSource(cfg.AddSource)
	if cfg.Rotation != nil {
		b = b.SetRotation(*cfg.Rotation)
	}
	return b.Build()
}

func (rt *runtime) buildDiscovery(ctx context.Context, timeout time.Duration) error {
	switch rt.cfg.Discovery.Backend {
	case xconf.BackendEtcd:
		return rt.buildEtcd(ctx, timeout)
	default:
		table, err := staticTable(rt.cfg.Discovery.Static)
		if err != nil {
			return err
		}
		rt.static = xdiscovery.NewStatic(table)
		rt.registry = rt.static
		return nil
	}
}

func (rt *runtime) buildEtcd(ctx context.Context, timeout time.Duration) error {
	ec := rt.cfg.Discovery.Etcd
	client, err := xetcd.NewClient(&xetcd.Config{
		Endpoints:   ec.Endpoints,
		Username:    ec.Username,
		Password:    ec.Password,
		DialTimeout: ec.DialTimeout,
	},
		xetcd.WithContext(ctx),
		xetcd.WithHealthCheck(true, timeout),
		xetcd.WithHealthCheckKey(ec.Prefix),
		xetcd.WithLogger(rt.logger),
	)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, client.Close)

	etcd, err := xdiscovery.NewEtcd(client,
		xdiscovery.WithPrefix(ec.Prefix),
		xdiscovery.WithCacheTTL(ec.CacheTTL),
		xdiscovery.WithRegisterTTL(ec.RegisterTTL),
		xdiscovery.WithLogger(rt.logger),
	)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, func() error {
		etcd.Close()
		return nil
	})
	rt.etcd = etcd
	rt.registry = etcd
	return nil
}

// Close 逆序释放组件。
func (rt *runtime) Close() error {
	var errs []error
	for _, closer := range slices.Backward(rt.closers) {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// staticTable 把静态配置转换为实例表。
func staticTable(static map[string][]xconf.StaticInstance) (map[string][]xbalance.Instance, error) {
	table := make(map[string][]xbalance.Instance, len(static))
	for service, list := range static {
		instances := make([]xbalance.Instance, 0, len(list))
		for _, si := range list {
			instances = append(instances, xbalance.Instance{
				ID:       si.ID,
				Host:     si.Host,
				Port:     si.Port,
				Metadata: si.Metadata,
			})
		}
		if len(instances) == 0 {
			return nil, fmt.Errorf("%w: service %q has no instances", xconf.ErrInvalidConfig, service)
		}
		table[service] = instances
	}
	return table, nil
}

// buildRules 按配置构造默认规则与按服务覆盖的规则。
func buildRules(cfg *xconf.Balancer, opts ...xbalance.Option) (xbalance.Rule, map[string]xbalance.Rule, error) {
	def, err := xbalance.NewRule(cfg.DefaultRule, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("default_rule: %w", err)
	}
	perService := make(map[string]xbalance.Rule, len(cfg.Rules))
	for service, name := range cfg.Rules {
		rule, err := xbalance.NewRule(name, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("rules.%s: %w", service, err)
		}
		perService[service] = rule
	}
	return def, perService, nil
}

// newBalancer 基于运行时的服务发现与配置的规则构造 Balancer。
func (rt *runtime) newBalancer(opts ...xbalance.Option) (*xbalance.Balancer, []xbalance.Option, error) {
	opts = append([]xbalance.Option{xbalance.WithLogger(rt.logger)}, opts...)
	def, perService, err := buildRules(rt.cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	b, err := xbalance.NewBalancer(rt.registry, append(opts, xbalance.WithDefaultRule(def))...)
	if err != nil {
		return nil, nil, err
	}
	b.SetRules(def, perService)
	return b, opts, nil
}

// newPicker 返回 pick 使用的 Picker：explicit 时为按服务名选择的 Chooser，否则为 Balancer。
func (rt *runtime) newPicker(explicit bool) (xbalance.Picker, error) {
	if explicit {
		c, err := xbalance.NewChooser(rt.registry, xbalance.WithLogger(rt.logger))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	b, _, err := rt.newBalancer()
	if err != nil {
		return nil, err
	}
	return b, nil
}

func outWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
