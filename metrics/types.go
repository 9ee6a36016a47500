// Package metrics 基于 OpenTelemetry 提供 Counter / Gauge / Histogram 指标，
// 通过 Prometheus exporter 在独立端口暴露。
//
//	meter, err := metrics.New(&metrics.Config{Enabled: true, ServiceName: "idgend", Port: 9090})
//	defer meter.Shutdown(ctx)
//
//	counter, _ := meter.Counter("idgen_snowflake_generated_total", "生成的 ID 总数")
//	counter.Inc(ctx, metrics.L("node_id", "3"))
//
// Enabled 为 false 时返回 noop 实现，调用方无需判空。
package metrics

import "context"

// Counter 只增不减的累计值
type Counter interface {
	Inc(ctx context.Context, labels ...Label)
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 可任意增减的瞬时值
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 值的分布
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标工厂，创建出的指标可并发使用
type Meter interface {
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)
	// Shutdown 刷新指标并关闭 Prometheus HTTP 服务
	Shutdown(ctx context.Context) error
}

// MetricOption 单个指标的选项
type MetricOption func(*MetricOptions)

// MetricOptions 单个指标的配置
type MetricOptions struct {
	Unit    string
	Buckets []float64
}

// WithUnit 设置单位，建议使用 UCUM 代码（s、By、{id}）
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}

// WithBuckets 设置直方图桶边界，仅对 Histogram 生效
func WithBuckets(buckets []float64) MetricOption {
	return func(o *MetricOptions) {
		o.Buckets = append([]float64(nil), buckets...)
	}
}
