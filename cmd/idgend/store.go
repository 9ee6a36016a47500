package main

import (
	"context"

	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/connector"
	"github.com/ceyewan/idgend/coord"
	"github.com/ceyewan/idgend/internal/server"
	"github.com/ceyewan/idgend/metrics"
	"github.com/ceyewan/idgend/xerrors"
)

// coordBackend 协调存储及其连接器
type coordBackend struct {
	store  coord.Store
	health server.HealthFunc
	close  func() error
}

// openStore 按 coord.driver 建立连接并创建存储，Connect 失败立即返回
func openStore(ctx context.Context, cfg *coordConfig, logger clog.Logger, meter metrics.Meter) (*coordBackend, error) {
	opts := []coord.Option{coord.WithLogger(logger), coord.WithKeyPrefix(cfg.KeyPrefix)}
	connOpts := []connector.Option{connector.WithLogger(logger), connector.WithMeter(meter)}

	switch cfg.Driver {
	case "etcd":
		conn, err := connector.NewEtcd(cfg.Etcd.resolve(), connOpts...)
		if err != nil {
			return nil, err
		}
		if err := conn.Connect(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		store, err := coord.NewEtcd(conn, opts...)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &coordBackend{store: store, health: conn.HealthCheck, close: conn.Close}, nil

	case "redis":
		conn, err := connector.NewRedis(&cfg.Redis, connOpts...)
		if err != nil {
			return nil, err
		}
		if err := conn.Connect(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		store, err := coord.NewRedis(conn, opts...)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &coordBackend{store: store, health: conn.HealthCheck, close: conn.Close}, nil

	case "memory":
		logger.Warn("using in-process coordination store, node ids are not coordinated across instances")
		return &coordBackend{
			store:  coord.NewMemory(opts...),
			health: func(context.Context) error { return nil },
			close:  func() error { return nil },
		}, nil

	default:
		return nil, xerrors.Invalidf("unsupported coord driver %q", cfg.Driver)
	}
}
