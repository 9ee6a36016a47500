package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/ceyewan/idgend/connector"
)

// GetEtcdConfig 默认连接 localhost:2379，可通过 IDGEND_TEST_ETCD_ENDPOINT 覆盖
func GetEtcdConfig() *connector.EtcdConfig {
	return &connector.EtcdConfig{
		Name:           "test-etcd",
		Endpoints:      []string{envOr("IDGEND_TEST_ETCD_ENDPOINT", "localhost:2379")},
		DialTimeout:    2 * time.Second,
		ConnectTimeout: 2 * time.Second,
	}
}

// GetEtcdConnector 返回已连接的 etcd 连接器，etcd 不可达时跳过测试
func GetEtcdConnector(t *testing.T) connector.EtcdConnector {
	t.Helper()
	conn, err := connector.NewEtcd(GetEtcdConfig(), connector.WithLogger(NewLogger()))
	if err != nil {
		t.Fatalf("failed to create etcd connector: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := conn.Connect(context.Background()); err != nil {
		t.Skipf("etcd not available: %v", err)
	}
	return conn
}
