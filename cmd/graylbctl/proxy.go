package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
	"github.com/omeyang/graylb/pkg/config/xconf"
	"github.com/omeyang/graylb/pkg/lifecycle/xrun"
	"github.com/omeyang/graylb/pkg/observability/xlog"
	"github.com/omeyang/graylb/pkg/observability/xmetrics"
	"github.com/omeyang/graylb/pkg/routing/xroute"
)

// shutdownTimeout 代理优雅关闭的等待上限。
const shutdownTimeout = 10 * time.Second

func createProxyCommand() *cli.Command {
	return &cli.Command{
		Name:  "proxy",
		Usage: "启动灰度感知的 HTTP 反向代理",
		Description: `所有入站请求转发到 --service 指定的逻辑服务。
携带 "Gray: true" 的请求只转发到灰度实例，其余只转发到普通实例。
配置文件变更时热更新规则、日志级别与静态实例表。`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "service", Aliases: []string{"s"}, Usage: "转发目标服务名", Required: true},
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "监听地址，覆盖 proxy.listen"},
			&cli.StringFlag{Name: "metrics-listen", Usage: "指标监听地址，覆盖 proxy.metrics_listen"},
		},
		Action: withRuntime(cmdProxy),
	}
}

func cmdProxy(ctx context.Context, cmd *cli.Command, rt *runtime) error {
	if v := cmd.String("listen"); v != "" {
		rt.cfg.Proxy.Listen = v
	}
	if v := cmd.String("metrics-listen"); v != "" {
		rt.cfg.Proxy.MetricsListen = v
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer, err := newObserver(reg)
	if err != nil {
		return err
	}
	b, ruleOpts, err := rt.newBalancer(xbalance.WithObserver(observer))
	if err != nil {
		return err
	}

	base := newBaseTransport()
	defer base.CloseIdleConnections()

	service := cmd.String("service")
	ln, err := net.Listen("tcp", rt.cfg.Proxy.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", rt.cfg.Proxy.Listen, err)
	}
	var mln net.Listener
	if addr := rt.cfg.Proxy.MetricsListen; addr != "" {
		if mln, err = net.Listen("tcp", addr); err != nil {
			return errors.Join(fmt.Errorf("listen %s: %w", addr, err), ln.Close())
		}
	}

	g, gctx := xrun.NewGroup(ctx, xrun.WithName("proxy"), xrun.WithLogger(rt.logger))

	srv := &http.Server{
		Handler:           newProxyHandler(b, service, rt.cfg.Proxy, base, rt.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	rt.logger.Info(ctx, "proxy listening",
		slog.String("addr", ln.Addr().String()), xlog.Service(service))
	g.GoWithName("http", xrun.HTTPServer(srv, ln, shutdownTimeout))

	if mln != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		msrv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		rt.logger.Info(ctx, "metrics listening", slog.String("addr", mln.Addr().String()))
		g.GoWithName("metrics", xrun.HTTPServer(msrv, mln, shutdownTimeout))
	}

	if rt.etcd != nil {
		g.GoWithName("discovery", rt.etcd.Run)
	}

	if rt.source.Path() != "" {
		r := &reloader{rt: rt, balancer: b, ruleOpts: ruleOpts}
		w, err := xconf.Watch(rt.source, func(cfg xconf.Config, err error) {
			r.apply(gctx, cfg, err)
		})
		if err != nil {
			rt.logger.Warn(ctx, "config watch disabled", xlog.Err(err))
		} else {
			g.GoWithName("config-watch", w.Run)
		}
	}

	return g.Wait()
}

// newObserver 同时输出 OpenTelemetry 与 Prometheus 指标。
func newObserver(reg prometheus.Registerer) (xmetrics.Observer, error) {
	otelObs, err := xmetrics.NewOTelObserver()
	if err != nil {
		return nil, err
	}
	promObs, err := xmetrics.NewPrometheusObserver(reg)
	if err != nil {
		return nil, err
	}
	return xmetrics.Multi(otelObs, promObs), nil
}

func newBaseTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 32
	return t
}

// newProxyHandler 构造转发到 service 的反向代理。
//
// 请求链路：HTTPMiddleware 记录入站灰度标记，ReverseProxy 把请求改写为
// http://<service>/...，xroute.HTTPTransport 为出站调用建立 Scope，
// xbalance.Transport 按规则选出实例并改写地址，最后由 base 发出。
func newProxyHandler(picker xbalance.Picker, service string, cfg xconf.Proxy, base http.RoundTripper, logger xlog.Logger) http.Handler {
	var routeOpts []xroute.TransportOption
	if cfg.InheritGray {
		routeOpts = append(routeOpts, xroute.WithInheritGray())
	}
	transport := xroute.HTTPTransport(
		xbalance.NewTransport(picker, base, xbalance.WithPassthroughHosts(cfg.Passthrough...)),
		routeOpts...,
	)
	target := &url.URL{Scheme: "http", Host: service}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			status := http.StatusBadGateway
			if xbalance.IsOutOfInstances(err) || xbalance.IsServiceNotFound(err) {
				status = http.StatusServiceUnavailable
			}
			logger.Warn(r.Context(), "proxy request failed",
				xlog.Service(service),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				xlog.Err(err),
			)
			w.WriteHeader(status)
		},
	}
	return xroute.HTTPMiddleware()(rp)
}

// =============================================================================
// 配置热更新
// =============================================================================

// reloader 把配置文件的变更应用到运行中的代理。
//
// 可热更新：规则、日志级别、静态实例表。
// 监听地址与服务发现后端需要重启生效。
type reloader struct {
	rt       *runtime
	balancer *xbalance.Balancer
	ruleOpts []xbalance.Option

	mu sync.Mutex
}

func (r *reloader) apply(ctx context.Context, source xconf.Config, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := r.rt.logger
	if err != nil {
		logger.Warn(ctx, "config reload failed, keeping previous config", xlog.Err(err))
		return
	}
	next, err := xconf.LoadBalancer(source)
	if err != nil {
		logger.Warn(ctx, "invalid config, keeping previous config", xlog.Err(err))
		return
	}
	def, perService, err := buildRules(next, r.ruleOpts...)
	if err != nil {
		logger.Warn(ctx, "invalid rules, keeping previous config", xlog.Err(err))
		return
	}
	if r.rt.static != nil && next.Discovery.Backend == xconf.BackendStatic {
		if err := r.applyStatic(next.Discovery.Static); err != nil {
			logger.Warn(ctx, "invalid static instances, keeping previous config", xlog.Err(err))
			return
		}
	}

	r.balancer.SetRules(def, perService)
	if lvl, err := xlog.ParseLevel(next.Log.Level); err == nil {
		logger.SetLevel(lvl)
	}
	if next.Discovery.Backend != r.rt.cfg.Discovery.Backend {
		logger.Warn(ctx, "discovery backend change requires restart",
			slog.String("current", r.rt.cfg.Discovery.Backend),
			slog.String("configured", next.Discovery.Backend))
	}
	logger.Info(ctx, "config reloaded",
		slog.String("default_rule", next.DefaultRule),
		slog.Int("rules", len(perService)))
}

// applyStatic 用新的静态实例表替换当前实例，已删除的服务一并清空。
func (r *reloader) applyStatic(static map[string][]xconf.StaticInstance) error {
	table, err := staticTable(static)
	if err != nil {
		return err
	}
	for _, service := range r.rt.static.Services() {
		if _, ok := table[service]; !ok {
			table[service] = nil
		}
	}
	for _, service := range slices.Sorted(maps.Keys(table)) {
		if err := r.rt.static.Set(service, table[service]); err != nil {
			return err
		}
	}
	return nil
}
