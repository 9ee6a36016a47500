// Package config 提供基于 Viper 的多源配置加载与热更新。
//
// 优先级（高 → 低）：
//
//	命令行 flag > 环境变量（含别名）> .env > config.<env>.yaml > config.yaml > 默认值
//
// 基本使用：
//
//	loader, _ := config.New(&config.Config{Name: "config", EnvPrefix: "IDGEND"},
//	    config.WithDefaults(map[string]any{"server.port": 5000}),
//	    config.WithEnvAlias("server.port", "PORT"),
//	    config.WithFlags(fs, map[string]string{"server.port": "port"}),
//	)
//	if err := loader.Load(ctx); err != nil { ... }
//
//	var cfg AppConfig
//	_ = loader.Unmarshal(&cfg)
//
//	ch, _ := loader.Watch(ctx, "log.level")
//	for ev := range ch { ... }
package config

import (
	"context"
	"strings"
	"time"
)

// Loader 配置加载器
type Loader interface {
	// Load 依次加载所有来源，并开始监听配置文件变化
	Load(ctx context.Context) error
	// Get 获取原始配置值
	Get(key string) any
	// Unmarshal 将整个配置反序列化到结构体（mapstructure 标签）
	Unmarshal(v any) error
	// UnmarshalKey 将指定 key 反序列化到结构体
	UnmarshalKey(key string, v any) error
	// Watch 监听 key 的变化，ctx 取消后通道关闭
	Watch(ctx context.Context, key string) (<-chan Event, error)
	// ConfigFileUsed 返回实际读取的配置文件路径，没有则为空
	ConfigFileUsed() string
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file"
	Timestamp time.Time
}

// Config 加载器配置
type Config struct {
	Name      string   // 配置文件名（不含扩展名），默认 config
	Paths     []string // 搜索路径，默认 [".", "./config"]
	FileType  string   // 默认 yaml
	EnvPrefix string   // 环境变量前缀，默认 IDGEND
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "config"
	}
	if c.Paths == nil {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = "IDGEND"
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
}

// New 创建配置加载器，cfg 为 nil 时使用默认值。
func New(cfg *Config, opts ...Option) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newLoader(cfg, o), nil
}

// MustLoad 创建并加载配置，失败时 panic。仅用于程序入口。
func MustLoad(ctx context.Context, cfg *Config, opts ...Option) Loader {
	l, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	if err := l.Load(ctx); err != nil {
		panic(err)
	}
	return l
}
