package idgen

import (
	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/metrics"
)

// Option 组件初始化选项函数，Generator 和 Allocator 共用
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	clock  Clock
	onLost func(error)
}

func applyOptions(opts []Option) *options {
	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger 设置 Logger
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.With(clog.Component("idgen"))
		}
	}
}

// WithMeter 设置 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithClock 替换 Generator 的时钟
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithOnLost 续约失败时调用，早于租约撤销执行。
// 通常传入 Generator.Fence，保证槽位释放后不再发号。
func WithOnLost(fn func(error)) Option {
	return func(o *options) {
		o.onLost = fn
	}
}
