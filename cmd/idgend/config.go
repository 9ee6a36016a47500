package main

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/config"
	"github.com/ceyewan/idgend/connector"
	"github.com/ceyewan/idgend/idgen"
	"github.com/ceyewan/idgend/internal/server"
	"github.com/ceyewan/idgend/metrics"
	"github.com/ceyewan/idgend/trace"
	"github.com/ceyewan/idgend/xerrors"
)

// appConfig 配置文件结构
type appConfig struct {
	Server  server.Config  `mapstructure:"server"`
	Log     clog.Config    `mapstructure:"log"`
	Metrics metrics.Config `mapstructure:"metrics"`
	Trace   trace.Config   `mapstructure:"trace"`
	Coord   coordConfig    `mapstructure:"coord"`
	IDGen   idgen.Config   `mapstructure:"idgen"`
}

type coordConfig struct {
	// Driver etcd|redis|memory
	Driver    string                `mapstructure:"driver"`
	KeyPrefix string                `mapstructure:"key_prefix"`
	Etcd      etcdConfig            `mapstructure:"etcd"`
	Redis     connector.RedisConfig `mapstructure:"redis"`
}

// etcdConfig 额外支持 host/port 两个字段，设置 host 时覆盖 endpoints
type etcdConfig struct {
	connector.EtcdConfig `mapstructure:",squash"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (c *etcdConfig) resolve() *connector.EtcdConfig {
	cfg := c.EtcdConfig
	if c.Host != "" {
		port := c.Port
		if port == 0 {
			port = 2379
		}
		cfg.Endpoints = []string{net.JoinHostPort(c.Host, strconv.Itoa(port))}
	}
	return &cfg
}

var defaults = map[string]any{
	"server.host":             "localhost",
	"server.port":             5000,
	"server.max_batch":        4096,
	"server.shutdown_timeout": "10s",
	"server.service_name":     "idgend",
	"server.rate_limit.rate":  0,
	"server.rate_limit.burst": 0,

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"metrics.enabled":        false,
	"metrics.service_name":   "idgend",
	"metrics.port":           9090,
	"metrics.path":           "/metrics",
	"metrics.enable_runtime": true,

	"trace.enabled":      false,
	"trace.service_name": "idgend",
	"trace.endpoint":     "localhost:4317",
	"trace.sampler":      1.0,
	"trace.batcher":      "batch",
	"trace.insecure":     true,

	"coord.driver":         "etcd",
	"coord.etcd.endpoints": []string{"localhost:2379"},
	"coord.etcd.host":      "",
	"coord.etcd.port":      0,
	"coord.redis.addr":     "localhost:6379",

	"idgen.datacenter_id": 0,
	"idgen.slot_prefix":   "id-gen-worker-",
	"idgen.max_slots":     32,
	"idgen.lease_ttl":     "15s",
}

// 配置 key → flag 名
var flagKeys = map[string]string{
	"log.level":           "log",
	"server.host":         "host",
	"server.port":         "port",
	"coord.etcd.host":     "etcd-host",
	"coord.etcd.port":     "etcd-port",
	"idgen.datacenter_id": "datacenter-id",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("idgend server", pflag.ContinueOnError)
	fs.String("config", "", "path to the config file (default ./config.yaml or ./config/config.yaml)")
	fs.StringP("log", "l", "info", "log level: debug|info|warn|error")
	fs.String("host", "localhost", "http listen host")
	fs.Int("port", 5000, "http listen port")
	fs.String("etcd-host", "", "etcd host, overrides coord.etcd.endpoints")
	fs.Int("etcd-port", 2379, "etcd port")
	fs.Int64("datacenter-id", 0, "datacenter id [0, 31]")
	return fs
}

// loadConfig 按 flag > 环境变量 > .env > 配置文件 > 默认值 加载
func loadConfig(ctx context.Context, fs *pflag.FlagSet, logger clog.Logger) (*appConfig, config.Loader, error) {
	lc := &config.Config{Name: "config", EnvPrefix: "IDGEND"}
	if path, _ := fs.GetString("config"); path != "" {
		ext := filepath.Ext(path)
		lc.Name = strings.TrimSuffix(filepath.Base(path), ext)
		lc.Paths = []string{filepath.Dir(path)}
		lc.FileType = strings.TrimPrefix(ext, ".")
	}

	loader, err := config.New(lc,
		config.WithDefaults(defaults),
		config.WithEnvAlias("server.host", "HOST"),
		config.WithEnvAlias("server.port", "PORT"),
		config.WithEnvAlias("coord.etcd.host", "ETCD_HOST"),
		config.WithEnvAlias("coord.etcd.port", "ETCD_PORT"),
		config.WithEnvAlias("log.level", "LOG"),
		config.WithFlags(fs, flagKeys),
		config.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := loader.Load(ctx); err != nil {
		return nil, nil, xerrors.Wrap(err, "load config")
	}

	var cfg appConfig
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, nil, xerrors.Wrap(err, "unmarshal config")
	}
	return &cfg, loader, nil
}
