// Package clog 为 idgend 提供基于 slog 的结构化日志组件。
//
// 特性：
//   - Logger 接口不暴露底层 slog 实现
//   - 层级命名空间（WithNamespace），每个组件追加 component 字段
//   - 从 Context 自动提取 request_id / trace_id 等字段
//   - 运行时动态调整级别（SetLevel），配合 config.Watch 实现热更新
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "console"},
//	    clog.WithNamespace("idgend"),
//	    clog.WithStandardContext(),
//	)
//	logger.Info("server started", clog.Int("port", 5000))
package clog

// New 创建 Logger。config 为 nil 时使用默认配置。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return newLogger(config, applyOptions(opts...))
}

// Default 返回 info 级别、console 格式、输出到 stdout 的 Logger。
func Default() Logger {
	logger, err := New(DefaultConfig())
	if err != nil {
		return Discard()
	}
	return logger
}
