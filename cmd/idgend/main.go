// Command idgend 分布式雪花 ID 服务。
//
//	idgend server --config ./config.yaml --port 5000 --etcd-host 127.0.0.1
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/config"
	"github.com/ceyewan/idgend/idgen"
	"github.com/ceyewan/idgend/internal/server"
	"github.com/ceyewan/idgend/metrics"
	"github.com/ceyewan/idgend/trace"
	"github.com/ceyewan/idgend/xerrors"
)

const usage = `Usage: idgend server [flags]

Commands:
  server    start the HTTP id service

Flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "idgend:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := newFlagSet()
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if len(args) == 0 || args[0] != "server" {
		fs.Usage()
		return xerrors.New("expected the server command")
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, fs)
}

// serve 启动服务直到 ctx 取消或槽位丢失。
// 关闭顺序：HTTP 服务 → 分配器（撤销租约）→ 连接器 → 指标 → 链路追踪。
func serve(ctx context.Context, fs *pflag.FlagSet) error {
	bootLogger := clog.Default()
	cfg, loader, err := loadConfig(ctx, fs, bootLogger)
	if err != nil {
		return err
	}

	logger, err := clog.New(&cfg.Log, clog.WithNamespace("idgend"), clog.WithStandardContext())
	if err != nil {
		return xerrors.Wrap(err, "init logger")
	}
	defer logger.Flush()
	if used := loader.ConfigFileUsed(); used != "" {
		logger.Info("configuration loaded", clog.String("file", used))
	}

	traceShutdown, err := trace.Setup(&cfg.Trace)
	if err != nil {
		return xerrors.Wrap(err, "init trace")
	}
	defer shutdownWith(logger, "tracer", traceShutdown)

	meter, err := metrics.New(&cfg.Metrics, metrics.WithLogger(logger))
	if err != nil {
		return xerrors.Wrap(err, "init metrics")
	}
	defer shutdownWith(logger, "meter", meter.Shutdown)

	backend, err := openStore(ctx, &cfg.Coord, logger, meter)
	if err != nil {
		return xerrors.Wrap(err, "open coordination store")
	}
	defer func() {
		if err := backend.close(); err != nil {
			logger.Warn("failed to close connector", clog.Error(err))
		}
	}()

	fence := &slotFence{}
	alloc, err := idgen.NewAllocator(backend.store, &cfg.IDGen.Allocator,
		idgen.WithLogger(logger), idgen.WithMeter(meter), idgen.WithOnLost(fence.onLost))
	if err != nil {
		return err
	}
	nodeID, err := allocate(ctx, alloc, cfg.IDGen.Allocator.SlotPrefix)
	if err != nil {
		return err
	}
	defer shutdownWith(logger, "allocator", alloc.Stop)

	gen, err := idgen.NewGenerator(nodeID, cfg.IDGen.DatacenterID,
		idgen.WithLogger(logger), idgen.WithMeter(meter))
	if err != nil {
		return err
	}
	fence.bind(gen)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		if err := <-alloc.Lost(); err != nil {
			cancel(err)
		}
	}()
	go watchLogLevel(ctx, loader, logger)

	srv, err := server.New(&cfg.Server, gen,
		server.WithLogger(logger),
		server.WithMeter(meter),
		server.WithHealthCheck(backend.health),
	)
	if err != nil {
		return err
	}

	logger.Info("idgend started",
		clog.Int64("node_id", nodeID),
		clog.Int64("datacenter_id", cfg.IDGen.DatacenterID),
		clog.String("driver", cfg.Coord.Driver),
		clog.String("addr", cfg.Server.Addr()),
	)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		logger.Error("stopped serving after losing the worker slot", clog.Error(cause))
		return cause
	}
	logger.Info("idgend stopped")
	return nil
}

// allocate 在一个 Span 中完成节点 ID 分配，便于排查启动阶段的协调存储问题
func allocate(ctx context.Context, alloc *idgen.Allocator, prefix string) (int64, error) {
	ctx, span := trace.Tracer("idgend").Start(ctx, "idgen.allocate")
	defer span.End()

	nodeID, err := alloc.Start(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocate worker slot")
		return -1, xerrors.Wrap(err, "allocate worker slot")
	}
	span.SetAttributes(
		attribute.Int64(trace.AttrNodeID, nodeID),
		attribute.String(trace.AttrSlotName, fmt.Sprintf("%s%d", prefix, nodeID)),
		attribute.Int64(trace.AttrLeaseID, int64(alloc.LeaseID())),
	)
	return nodeID, nil
}

// watchLogLevel 配置文件中 log.level 变化时调整日志级别
func watchLogLevel(ctx context.Context, loader config.Loader, logger clog.Logger) {
	ch, err := loader.Watch(ctx, "log.level")
	if err != nil {
		logger.Warn("failed to watch log level", clog.Error(err))
		return
	}
	for ev := range ch {
		raw, _ := ev.Value.(string)
		level, err := clog.ParseLevel(raw)
		if err != nil {
			logger.Warn("ignored invalid log level", clog.Any("value", ev.Value))
			continue
		}
		if err := logger.SetLevel(level); err != nil {
			logger.Warn("failed to set log level", clog.Error(err))
			continue
		}
		logger.Info("log level changed", clog.String("level", raw))
	}
}

func shutdownWith(logger clog.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown failed", clog.String("component", name), clog.Error(err))
	}
}
