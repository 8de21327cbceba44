package xroute

import (
	"context"
	"log/slog"
)

// KeyGrayAttr 日志/指标中灰度标记的属性 Key
const KeyGrayAttr = "gray"

// AppendAttrs 将路由信息追加为 slog 属性。
//
// 只在调用为灰度时追加 gray=true，普通调用不追加任何属性。
// 供 xlog.EnrichHandler 在热路径上使用，不产生额外分配。
func AppendAttrs(attrs []slog.Attr, ctx context.Context) []slog.Attr {
	if IsGray(ctx) {
		attrs = append(attrs, slog.Bool(KeyGrayAttr, true))
	}
	return attrs
}
