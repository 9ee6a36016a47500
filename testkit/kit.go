// Package testkit 提供测试共用的依赖构造：日志、指标、以及 etcd/Redis 连接器。
//
// 依赖外部服务的辅助函数在服务不可达时调用 t.Skip，
// 因此集成测试在没有本地 etcd/Redis 的环境中会被跳过而不是失败。
package testkit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/metrics"
)

// Kit 通用测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
}

// NewKit 返回包含默认依赖的测试工具包
func NewKit(t *testing.T) *Kit {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &Kit{Ctx: ctx, Logger: NewLogger(), Meter: metrics.Discard()}
}

// NewLogger 返回测试 logger。设置 IDGEND_TEST_LOG=debug 等输出到 stderr，否则静默。
func NewLogger() clog.Logger {
	level := os.Getenv("IDGEND_TEST_LOG")
	if level == "" {
		return clog.Discard()
	}
	logger, err := clog.New(&clog.Config{Level: level, Format: "console", Output: "stderr"},
		clog.WithNamespace("test"))
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回启用的 Meter 和可读取数据的 ManualReader，不监听端口
func NewMeter(t *testing.T) (metrics.Meter, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	meter, err := metrics.New(&metrics.Config{Enabled: true, ServiceName: "test"}, metrics.WithReader(reader))
	if err != nil {
		t.Fatalf("failed to create meter: %v", err)
	}
	t.Cleanup(func() { _ = meter.Shutdown(context.Background()) })
	return meter, reader
}

// NewContext 返回带超时的测试上下文
func NewContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewID 返回 8 位唯一标识，用于隔离测试之间的 key 前缀
func NewID() string {
	return uuid.New().String()[0:8]
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
