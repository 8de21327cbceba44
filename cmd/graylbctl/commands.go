package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
	"github.com/omeyang/graylb/pkg/config/xconf"
	"github.com/omeyang/graylb/pkg/observability/xlog"
	"github.com/omeyang/graylb/pkg/routing/xroute"
)

// 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createRegisterCommand(),
		createListCommand(),
		createPickCommand(),
		createProxyCommand(),
	}
}

// withRuntime 为命令组装运行时，命令返回后释放。
func withRuntime(fn func(ctx context.Context, cmd *cli.Command, rt *runtime) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) (err error) {
		rt, err := newRuntime(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, rt.Close())
		}()
		return fn(ctx, cmd, rt)
	}
}

// =============================================================================
// register
// =============================================================================

func createRegisterCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "向 etcd 注册实例并保持租约，收到 SIGINT/SIGTERM 后注销",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "service", Aliases: []string{"s"}, Usage: "服务名", Required: true},
			&cli.StringFlag{Name: "host", Usage: "实例地址", Required: true},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "实例端口", Required: true},
			&cli.BoolFlag{Name: "gray", Usage: "标记为灰度实例"},
			&cli.StringFlag{Name: "id", Usage: "实例 ID，默认随机生成"},
			&cli.StringSliceFlag{Name: "meta", Aliases: []string{"m"}, Usage: "附加元数据 key=value，可重复"},
		},
		Action: withRuntime(cmdRegister),
	}
}

func cmdRegister(ctx context.Context, cmd *cli.Command, rt *runtime) error {
	if rt.etcd == nil {
		return newUsageError("register 需要 etcd 服务发现后端（discovery.backend: %s）", xconf.BackendEtcd)
	}
	inst, err := instanceFromFlags(cmd)
	if err != nil {
		return err
	}
	service := cmd.String("service")
	timeout := cmd.Duration("timeout")

	regCtx, cancel := context.WithTimeout(ctx, timeout)
	lease, err := rt.etcd.Register(regCtx, service, inst)
	cancel()
	if err != nil {
		return err
	}
	fmt.Fprintf(outWriter(cmd), "registered %s %s (id=%s, lease=%x)\n", service, inst.Addr(), inst.ID, int64(lease))

	keepErr := rt.etcd.KeepAlive(ctx, lease)

	// ctx 已取消，注销使用独立的超时
	deregCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := rt.etcd.Deregister(deregCtx, service, inst, lease); err != nil {
		rt.logger.Warn(deregCtx, "deregister failed", xlog.Service(service), xlog.Err(err))
		return errors.Join(keepErr, err)
	}
	fmt.Fprintf(outWriter(cmd), "deregistered %s %s\n", service, inst.Addr())
	return keepErr
}

// instanceFromFlags 从 register 的 flag 构造实例。
func instanceFromFlags(cmd *cli.Command) (xbalance.Instance, error) {
	port := cmd.Int("port")
	if port <= 0 || port > 65535 {
		return xbalance.Instance{}, newUsageError("无效的端口 %d", port)
	}
	metadata, err := parseMetadata(cmd.StringSlice("meta"))
	if err != nil {
		return xbalance.Instance{}, err
	}
	if cmd.Bool("gray") {
		metadata[xbalance.MetadataGray] = xbalance.MetadataGrayValue
	}
	id := cmd.String("id")
	if id == "" {
		id = uuid.NewString()
	}
	return xbalance.Instance{
		ID:       id,
		Host:     cmd.String("host"),
		Port:     port,
		Metadata: metadata,
	}, nil
}

// parseMetadata 解析 key=value 列表。
func parseMetadata(pairs []string) (map[string]string, error) {
	metadata := make(map[string]string, len(pairs)+1)
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, newUsageError("无效的元数据 %q，应为 key=value", pair)
		}
		metadata[strings.TrimSpace(k)] = v
	}
	return metadata, nil
}

// =============================================================================
// list
// =============================================================================

func createListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "列出服务的实例",
		ArgsUsage: "[service...]",
		Action:    withRuntime(cmdList),
	}
}

func cmdList(ctx context.Context, cmd *cli.Command, rt *runtime) error {
	services := cmd.Args().Slice()
	if len(services) == 0 {
		if rt.static == nil {
			return newUsageError("etcd 后端需要指定服务名")
		}
		services = rt.static.Services()
	}

	listCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	tw := tabwriter.NewWriter(outWriter(cmd), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tADDRESS\tID\tPARTITION\tMETADATA")
	for _, service := range services {
		instances, err := rt.registry.Instances(listCtx, service)
		if err != nil {
			return fmt.Errorf("list %q: %w", service, err)
		}
		for _, inst := range instances {
			partition := xbalance.PartitionNormal
			if inst.IsGray() {
				partition = xbalance.PartitionGray
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				service, inst.Addr(), inst.ID, partition, formatMetadata(inst.Metadata))
		}
	}
	return tw.Flush()
}

func formatMetadata(md map[string]string) string {
	if len(md) == 0 {
		return "-"
	}
	pairs := make([]string, 0, len(md))
	for _, k := range slices.Sorted(maps.Keys(md)) {
		pairs = append(pairs, k+"="+md[k])
	}
	return strings.Join(pairs, ",")
}

// =============================================================================
// pick
// =============================================================================

func createPickCommand() *cli.Command {
	return &cli.Command{
		Name:  "pick",
		Usage: "按配置的规则选择实例，打印选择结果的分布",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "service", Aliases: []string{"s"}, Usage: "服务名", Required: true},
			&cli.BoolFlag{Name: "gray", Usage: "以灰度调用的身份选择"},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "选择次数", Value: 1},
			&cli.BoolFlag{Name: "explicit", Usage: "按服务名直接选择实例，不经过路由规则"},
		},
		Action: withRuntime(cmdPick),
	}
}

func cmdPick(ctx context.Context, cmd *cli.Command, rt *runtime) error {
	count := cmd.Int("count")
	if count <= 0 {
		return newUsageError("--count 必须大于 0，当前为 %d", count)
	}
	if cmd.Bool("explicit") && cmd.Bool("gray") {
		return newUsageError("--explicit 不经过路由规则，不能与 --gray 同时使用")
	}
	picker, err := rt.newPicker(cmd.Bool("explicit"))
	if err != nil {
		return err
	}

	service := cmd.String("service")
	if cmd.Bool("gray") {
		ctx = xroute.WithGray(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	dist, err := pickDistribution(ctx, picker, service, count)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(outWriter(cmd), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tCOUNT\tRATIO")
	for _, addr := range slices.Sorted(maps.Keys(dist)) {
		n := dist[addr]
		fmt.Fprintf(tw, "%s\t%d\t%s\n", addr, n,
			strconv.FormatFloat(float64(n)*100/float64(count), 'f', 1, 64)+"%")
	}
	return tw.Flush()
}

// pickDistribution 选择 count 次，按实例地址计数。任意一次失败即返回错误。
func pickDistribution(ctx context.Context, p xbalance.Picker, service string, count int) (map[string]int, error) {
	dist := make(map[string]int)
	for range count {
		inst, err := p.Pick(ctx, service)
		if err != nil {
			return nil, err
		}
		dist[inst.Addr()]++
	}
	return dist, nil
}
