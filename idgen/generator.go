// Package idgen 提供雪花算法 ID 生成器，以及基于协调存储自动分配节点 ID 的 Allocator。
//
// 典型用法：
//
//	alloc, _ := idgen.NewAllocator(store, cfg)
//	nodeID, _ := alloc.Start(ctx)
//	defer alloc.Stop(context.Background())
//
//	gen, _ := idgen.NewGenerator(nodeID, datacenterID)
//	go func() {
//	    if err := <-alloc.Lost(); err != nil {
//	        gen.Fence(err)
//	    }
//	}()
//	id, err := gen.NextID()
//
// 同一进程内应只使用一个 Generator，多个 Generator 使用相同的节点 ID 会产生重复 ID。
package idgen

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/metrics"
	"github.com/ceyewan/idgend/xerrors"
)

// Clock 毫秒时钟
type Clock interface {
	NowMilli() int64
}

// ClockFunc 函数适配为 Clock
type ClockFunc func() int64

func (f ClockFunc) NowMilli() int64 { return f() }

type systemClock struct{}

func (systemClock) NowMilli() int64 { return time.Now().UnixMilli() }

// Generator 雪花算法生成器，并发安全
type Generator struct {
	mu        sync.Mutex
	lastStamp int64
	sequence  int64

	nodeID       int64
	datacenterID int64
	clock        Clock
	fence        atomic.Pointer[fence]
	logger       clog.Logger

	generated  metrics.Counter
	regression metrics.Counter
	exhausted  metrics.Counter
	labels     []metrics.Label
}

type fence struct{ err error }

// NewGenerator 创建生成器，nodeID 与 datacenterID 取值 [0, 31]
func NewGenerator(nodeID, datacenterID int64, opts ...Option) (*Generator, error) {
	if nodeID < 0 || nodeID > MaxNodeID {
		return nil, xerrors.WithCode(ErrInvalidInput, "node_id_out_of_range")
	}
	if datacenterID < 0 || datacenterID > MaxDatacenterID {
		return nil, xerrors.WithCode(ErrInvalidInput, "datacenter_id_out_of_range")
	}

	o := applyOptions(opts)
	g := &Generator{
		nodeID:       nodeID,
		datacenterID: datacenterID,
		clock:        o.clock,
		logger:       o.logger,
		labels: []metrics.Label{
			metrics.L(labelNodeID, strconv.FormatInt(nodeID, 10)),
			metrics.L(labelDatacenterID, strconv.FormatInt(datacenterID, 10)),
		},
	}

	var err error
	if g.generated, err = o.meter.Counter(MetricSnowflakeGenerated, "Total number of snowflake ids generated"); err != nil {
		return nil, xerrors.Wrap(err, "create generated counter")
	}
	if g.regression, err = o.meter.Counter(MetricClockRegression, "Total number of clock regressions observed"); err != nil {
		return nil, xerrors.Wrap(err, "create regression counter")
	}
	if g.exhausted, err = o.meter.Counter(MetricSequenceExhausted, "Total number of sequence wraps within one millisecond"); err != nil {
		return nil, xerrors.Wrap(err, "create exhausted counter")
	}

	g.logger.Info("snowflake generator created",
		clog.Int64("node_id", nodeID),
		clog.Int64("datacenter_id", datacenterID),
	)
	return g, nil
}

// NodeID 返回节点 ID
func (g *Generator) NodeID() int64 { return g.nodeID }

// DatacenterID 返回数据中心 ID
func (g *Generator) DatacenterID() int64 { return g.datacenterID }

// NextID 生成下一个 ID。
// 时钟回拨返回 ErrClockRegression 且不修改状态；同一毫秒内序列号用尽时忙等到下一毫秒。
func (g *Generator) NextID() (int64, error) {
	id, wrapped, err := g.next()
	ctx := context.Background()
	if err != nil {
		if xerrors.Is(err, ErrClockRegression) {
			g.regression.Inc(ctx, g.labels...)
		}
		return 0, err
	}
	if wrapped {
		g.exhausted.Inc(ctx, g.labels...)
	}
	g.generated.Inc(ctx, g.labels...)
	return id, nil
}

func (g *Generator) next() (id int64, wrapped bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if f := g.fence.Load(); f != nil {
		return 0, false, f.err
	}

	now := g.clock.NowMilli()
	if now < g.lastStamp {
		return 0, false, xerrors.Wrapf(ErrClockRegression, "now %d, last %d", now, g.lastStamp)
	}
	if now < Epoch {
		return 0, false, xerrors.Wrapf(ErrClockRegression, "now %d is before epoch", now)
	}
	if now-Epoch > MaxTimestamp {
		return 0, false, xerrors.Wrapf(ErrTimestampOverflow, "now %d", now)
	}

	if now == g.lastStamp {
		g.sequence = (g.sequence + 1) & MaxSequence
		if g.sequence == 0 {
			wrapped = true
			for now <= g.lastStamp {
				now = g.clock.NowMilli()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastStamp = now

	return (now-Epoch)<<timestampShift |
		g.nodeID<<nodeShift |
		g.datacenterID<<datacenterShift |
		g.sequence, wrapped, nil
}

// Next 返回下一个 ID，出错时返回 -1
func (g *Generator) Next() int64 {
	id, err := g.NextID()
	if err != nil {
		return -1
	}
	return id
}

// NextN 依次生成 n 个 ID，遇到第一个错误即停止
func (g *Generator) NextN(n int) ([]int64, error) {
	if n < 1 {
		return nil, xerrors.Wrapf(ErrInvalidInput, "count %d", n)
	}
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := g.NextID()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Fence 熔断生成器，之后所有 NextID 返回 ErrSlotLost。不可恢复，重复调用保留第一次的原因。
func (g *Generator) Fence(cause error) {
	err := ErrSlotLost
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrSlotLost, cause)
	}
	if g.fence.CompareAndSwap(nil, &fence{err: err}) {
		g.logger.Error("generator fenced, id generation stopped",
			clog.Int64("node_id", g.nodeID),
			clog.Error(err),
		)
	}
}

// Fenced 返回熔断原因，未熔断时返回 nil
func (g *Generator) Fenced() error {
	if f := g.fence.Load(); f != nil {
		return f.err
	}
	return nil
}
