package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/ceyewan/idgend/connector"
)

// GetRedisConfig 默认连接 localhost:6379 的 DB 1，可通过 IDGEND_TEST_REDIS_ADDR 覆盖
func GetRedisConfig() *connector.RedisConfig {
	return &connector.RedisConfig{
		Name:           "test-redis",
		Addr:           envOr("IDGEND_TEST_REDIS_ADDR", "localhost:6379"),
		DB:             1,
		PoolSize:       10,
		DialTimeout:    2 * time.Second,
		ConnectTimeout: 2 * time.Second,
	}
}

// GetRedisConnector 返回已连接的 Redis 连接器，Redis 不可达时跳过测试
func GetRedisConnector(t *testing.T) connector.RedisConnector {
	t.Helper()
	conn, err := connector.NewRedis(GetRedisConfig(), connector.WithLogger(NewLogger()))
	if err != nil {
		t.Fatalf("failed to create redis connector: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := conn.Connect(context.Background()); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	return conn
}
