package xbalance

import (
	"github.com/omeyang/graylb/pkg/observability/xlog"
	"github.com/omeyang/graylb/pkg/observability/xmetrics"
)

// options 规则、Chooser 与 Balancer 共用的配置。
type options struct {
	logger      xlog.Logger
	observer    xmetrics.Observer
	rand        Rand
	defaultRule Rule
}

// Option 配置选项。
type Option func(*options)

// WithLogger 设置日志记录器。未设置时使用 xlog.Default()。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver 设置观测器，每次选择产生一个跨度。默认不观测。
func WithObserver(obs xmetrics.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithRand 设置随机数来源，主要用于测试固定种子。默认使用 math/rand/v2 全局生成器。
func WithRand(r Rand) Option {
	return func(o *options) {
		if r != nil {
			o.rand = r
		}
	}
}

// WithDefaultRule 设置 Balancer 的默认规则。默认为 GrayRule。
func WithDefaultRule(r Rule) Option {
	return func(o *options) {
		if r != nil {
			o.defaultRule = r
		}
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		observer: xmetrics.NoopObserver{},
		rand:     globalRand{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// log 延迟解析默认 Logger，构造之后调用 xlog.SetDefault 同样生效。
func (o *options) log() xlog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return xlog.Default()
}
