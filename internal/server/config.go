package server

import (
	"net"
	"strconv"
	"time"

	"github.com/ceyewan/idgend/xerrors"
)

// Config HTTP 服务配置，对应配置文件的 server 段
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// MaxBatch 单次请求最多生成的 ID 数
	MaxBatch        int           `mapstructure:"max_batch"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// ServiceName 用于链路追踪和 HTTP 指标
	ServiceName string          `mapstructure:"service_name"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig ID 限流，令牌数等于请求的 ID 数。Rate 为 0 时不限流。
type RateLimitConfig struct {
	// Rate 每秒补充的 ID 数
	Rate float64 `mapstructure:"rate"`
	// Burst 令牌桶容量，默认等于 MaxBatch
	Burst int `mapstructure:"burst"`
	// PerClient 按客户端 IP 分别限流，否则全局共享一个令牌桶
	PerClient bool `mapstructure:"per_client"`
	// IdleTimeout 客户端令牌桶闲置多久后回收
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5000
	}
	if c.MaxBatch == 0 {
		c.MaxBatch = 4096
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.ServiceName == "" {
		c.ServiceName = "idgend"
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.MaxBatch
	}
	if c.RateLimit.IdleTimeout == 0 {
		c.RateLimit.IdleTimeout = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return xerrors.Invalidf("server: port %d out of range", c.Port)
	}
	if c.MaxBatch < 1 {
		return xerrors.Invalidf("server: max_batch must be positive")
	}
	if c.RateLimit.Rate < 0 {
		return xerrors.Invalidf("server: rate_limit.rate must not be negative")
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst < c.MaxBatch {
		// 否则 count=MaxBatch 的请求永远无法获得足够令牌
		return xerrors.Invalidf("server: rate_limit.burst %d is smaller than max_batch %d", c.RateLimit.Burst, c.MaxBatch)
	}
	return nil
}

// Addr 监听地址
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
