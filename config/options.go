package config

import (
	"github.com/spf13/pflag"

	"github.com/ceyewan/idgend/clog"
)

// Option 加载器选项
type Option func(*options)

type options struct {
	defaults  map[string]any
	aliases   map[string][]string
	flags     *pflag.FlagSet
	flagNames map[string]string
	logger    clog.Logger
}

func defaultOptions() *options {
	return &options{
		defaults: map[string]any{},
		aliases:  map[string][]string{},
		logger:   clog.Discard(),
	}
}

// WithDefaults 设置默认值，key 使用点分路径
func WithDefaults(defaults map[string]any) Option {
	return func(o *options) {
		for k, v := range defaults {
			o.defaults[k] = v
		}
	}
}

// WithEnvAlias 为 key 追加不带前缀的环境变量名，例如 server.port → PORT。
// 带前缀的名字（IDGEND_SERVER_PORT）始终有效且优先。
func WithEnvAlias(key string, names ...string) Option {
	return func(o *options) {
		o.aliases[key] = append(o.aliases[key], names...)
	}
}

// WithFlags 绑定命令行 flag。names 映射配置 key → flag 名，只有显式设置的 flag 会覆盖其他来源。
func WithFlags(fs *pflag.FlagSet, names map[string]string) Option {
	return func(o *options) {
		o.flags = fs
		o.flagNames = names
	}
}

// WithLogger 设置日志记录器
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.With(clog.Component("config"))
		}
	}
}
