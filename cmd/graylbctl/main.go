// graylbctl 是 graylb 灰度负载均衡的命令行工具。
//
// 用法:
//
//	graylbctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config     配置文件路径（YAML 或 JSON），为空时使用默认配置
//	-t, --timeout    单次 etcd/网络操作超时 (默认: 5s)
//	    --log-level  覆盖配置文件中的日志级别
//
// 命令:
//
//	register    向 etcd 注册实例并保持租约，收到信号后注销
//	list        列出服务的实例
//	pick        按规则选择实例并打印分布
//	proxy       启动灰度感知的 HTTP 反向代理
//
// 退出码:
//
//	0: 成功
//	1: 执行失败（配置错误、服务发现失败、分区为空等）
//	2: 参数错误
//
// 示例:
//
//	graylbctl -c graylb.yaml list orders
//	graylbctl -c graylb.yaml pick --service orders --gray --count 100
//	graylbctl -c graylb.yaml pick --service orders --explicit --count 100
//	graylbctl -c graylb.yaml register --service orders --host 10.0.0.3 --port 8080 --gray
//	graylbctl -c graylb.yaml proxy --service orders --listen :8080
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
)

// defaultTimeout 默认操作超时时间。
const defaultTimeout = 5 * time.Second

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "graylbctl",
		Usage:   "灰度感知的负载均衡工具",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（.yaml/.yml/.json）",
				Sources: cli.EnvVars("GRAYLB_CONFIG"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "单次操作超时时间",
				Value:   defaultTimeout,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别 (debug/info/warn/error)，覆盖配置文件",
			},
		},
		Commands:       createCommands(),
		DefaultCommand: "help",
		// run() 统一映射退出码，禁止 urfave/cli 直接调用 os.Exit。
		ExitErrHandler: func(_ context.Context, cmd *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(errWriter(cmd), err)
			}
		},
		Description: `graylbctl 读取 graylb 配置，按灰度规则在服务实例间选择。

请求携带 "Gray: true" 时只会选中元数据 gray=true 的实例，
否则只会选中普通实例；目标分区为空时直接失败，不回退。`,
	}
}

func run() int {
	app := createApp()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupSignalHandler(cancel)

	return exitCode(app.Run(ctx, os.Args), os.Stderr)
}

// exitCode 把命令错误映射为退出码，必要时输出错误信息。
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(stderr, "参数错误: %v\n", usageErr)
		return 2
	}
	// 未知 flag、未知命令等框架错误已由 urfave/cli 输出
	if isCLIUsageError(err) {
		return 2
	}
	fmt.Fprintf(stderr, "错误: %v\n", err)
	return 1
}

// exitError 表示命令已完成输出，只需设置退出码。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// usageError 表示参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func newUsageError(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// isCLIUsageError 识别 urfave/cli 产生的参数错误。
func isCLIUsageError(err error) bool {
	if _, ok := err.(cli.ExitCoder); ok {
		return true
	}
	msg := err.Error()
	for _, prefix := range []string{
		"flag provided but not defined",
		"Required flag",
		"invalid value",
		"No help topic for",
	} {
		if strings.Contains(msg, prefix) {
			return true
		}
	}
	return false
}

// setupSignalHandler 第一次 SIGINT/SIGTERM 取消 ctx，第二次强制退出。
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()

		<-sigCh
		signal.Stop(sigCh)
		os.Exit(130)
	}()
}
