// Package connector 管理协调存储后端（etcd、Redis）的连接生命周期。
//
//	conn, err := connector.NewEtcd(&connector.EtcdConfig{Endpoints: []string{"localhost:2379"}},
//	    connector.WithLogger(logger))
//	if err != nil { ... }
//	defer conn.Close()
//	if err := conn.Connect(ctx); err != nil { ... } // 不可达时立即失败
//
// 资源所有权：Connector 拥有底层客户端，coord 等组件只借用、不负责 Close。
// 应用退出时先关闭借用方，再关闭 Connector。
package connector

import (
	"context"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Connector 连接器通用行为，所有方法并发安全
type Connector interface {
	// Connect 校验连通性，失败返回 ErrConnection。可重复调用。
	Connect(ctx context.Context) error
	// Close 释放客户端，可重复调用
	Close() error
	// HealthCheck 发送一次探测请求并更新缓存的健康状态
	HealthCheck(ctx context.Context) error
	// IsHealthy 返回最近一次 Connect/HealthCheck 的结果，不阻塞
	IsHealthy() bool
	// Name 连接实例名，用于日志和指标
	Name() string
}

// TypedConnector 提供类型安全的底层客户端
type TypedConnector[T any] interface {
	Connector
	GetClient() T
}

// EtcdConnector etcd 连接器
type EtcdConnector interface {
	TypedConnector[*clientv3.Client]
}

// RedisConnector Redis 连接器
type RedisConnector interface {
	TypedConnector[*redis.Client]
}
