package clog

import "io"

// ContextField 定义从 Context 中提取字段的规则
type ContextField struct {
	Key       any    // Context 中存储的键
	FieldName string // 日志中的字段名
}

// Option 函数式选项
type Option func(*options)

type options struct {
	namespaceParts []string
	contextFields  []ContextField
	traceContext   bool
	writer         io.Writer // 非 nil 时覆盖 Config.Output，测试使用
}

// WithNamespace 设置命名空间，多级以 "." 连接。
//
//	clog.WithNamespace("idgend", "allocator") // namespace=idgend.allocator
func WithNamespace(parts ...string) Option {
	return func(o *options) {
		o.namespaceParts = append(o.namespaceParts, parts...)
	}
}

// WithContextField 添加自定义的 Context 字段提取规则
func WithContextField(key any, fieldName string) Option {
	return func(o *options) {
		o.contextFields = append(o.contextFields, ContextField{Key: key, FieldName: fieldName})
	}
}

// WithStandardContext 提取 request_id（由 WithRequestID 写入）以及 OTel 的 trace_id/span_id。
func WithStandardContext() Option {
	return func(o *options) {
		o.contextFields = append(o.contextFields, ContextField{Key: requestIDKey{}, FieldName: "request_id"})
		o.traceContext = true
	}
}

// WithTraceContext 只开启 OTel trace_id/span_id 提取
func WithTraceContext() Option {
	return func(o *options) {
		o.traceContext = true
	}
}

// WithWriter 将日志写入指定 writer，忽略 Config.Output。
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
