package clog

import "context"

// Logger 结构化日志接口
//
// 每个级别都有带 Context 的版本，用于提取 WithStandardContext 等配置的字段。
//
//	child := logger.With(clog.String("slot", "id-gen-worker-3"))
//	sub := logger.WithNamespace("allocator") // namespace=idgend.allocator
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal 输出后调用 os.Exit(1)
	Fatal(msg string, fields ...Field)

	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建带有预设字段的子 Logger
	With(fields ...Field) Logger
	// WithNamespace 在现有命名空间后追加
	WithNamespace(parts ...string) Logger

	// SetLevel 动态调整级别，对所有派生出的子 Logger 同时生效
	SetLevel(level Level) error
	// Flush 同步文件输出
	Flush()
}
