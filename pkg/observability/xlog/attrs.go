package xlog

import (
	"log/slog"
	"time"
)

// 常用属性 Key
const (
	KeyError     = "error"
	KeyDuration  = "duration"
	KeyService   = "service"
	KeyInstance  = "instance"
	KeyComponent = "component"
)

// Err 创建错误属性，err 为 nil 时返回空属性（被 slog 忽略）。
//
//	logger.Warn(ctx, "discovery failed", xlog.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 创建耗时属性
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.String())
}

// Service 创建服务名属性
func Service(name string) slog.Attr {
	return slog.String(KeyService, name)
}

// Instance 创建实例地址属性
func Instance(addr string) slog.Attr {
	return slog.String(KeyInstance, addr)
}

// Component 创建组件名属性
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}
