package connector

import (
	"context"

	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/metrics"
)

const metricConnectTotal = "connector_connect_total"

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// Option 连接器选项
type Option func(*options)

// WithLogger 设置日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("connector")
		}
	}
}

// WithMeter 设置指标
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

func applyOptions(opts []Option) *options {
	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// connectRecorder 记录连接尝试结果：connector_connect_total{connector,name,outcome}
type connectRecorder struct {
	kind, name string
	total      metrics.Counter
}

func newConnectRecorder(m metrics.Meter, kind, name string) (*connectRecorder, error) {
	total, err := m.Counter(metricConnectTotal, "Number of connector connect attempts by outcome.")
	if err != nil {
		return nil, err
	}
	return &connectRecorder{kind: kind, name: name, total: total}, nil
}

func (r *connectRecorder) record(ctx context.Context, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	r.total.Inc(ctx,
		metrics.L("connector", r.kind),
		metrics.L("name", r.name),
		metrics.L(metrics.LabelOutcome, outcome),
	)
}
