package metrics

import (
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/ceyewan/idgend/clog"
)

// Option Meter 选项
type Option func(*options)

type options struct {
	logger  clog.Logger
	readers []sdkmetric.Reader
}

// WithLogger 注入日志记录器，自动追加 metrics 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("metrics")
		}
	}
}

// WithReader 追加额外的 Reader，测试中配合 sdkmetric.NewManualReader 读取指标
func WithReader(r sdkmetric.Reader) Option {
	return func(o *options) {
		o.readers = append(o.readers, r)
	}
}
