package xrun

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Server 可在 listener 上运行并优雅关闭的服务器，*http.Server 满足此接口。
type Server interface {
	Serve(ln net.Listener) error
	Shutdown(ctx context.Context) error
}

// HTTPServer 把 server 包装为服务函数：在 ln 上运行，ctx 取消后优雅关闭。
//
// 由调用方预先监听，端口占用等错误在启动服务之前暴露，":0" 的实际地址也可先行记录。
// shutdownTimeout <= 0 时 Shutdown 等待所有在途请求完成。
// 外部直接调用 Shutdown/Close 时返回 nil。
func HTTPServer(server Server, ln net.Listener, shutdownTimeout time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if server == nil {
			return ErrNilServer
		}
		if ln == nil {
			return ErrNilListener
		}

		serveErr := make(chan error, 1)
		go func() { serveErr <- server.Serve(ln) }()

		select {
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx := context.WithoutCancel(ctx)
		if shutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, shutdownTimeout)
			defer cancel()
		}
		err := server.Shutdown(shutdownCtx)
		if serr := <-serveErr; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			return errors.Join(err, serr)
		}
		return err
	}
}
