package idgen

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ceyewan/idgend/metrics"
	"github.com/ceyewan/idgend/testkit"
	"github.com/ceyewan/idgend/xerrors"
)

// fakeClock 可控时钟。spins > 0 时每次读取递减，减到 0 的那次读取前进 1ms。
type fakeClock struct {
	mu    sync.Mutex
	now   int64
	spins int
}

func newFakeClock(now int64) *fakeClock {
	return &fakeClock{now: now, spins: -1}
}

func (c *fakeClock) NowMilli() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.spins == 0:
		c.now++
		c.spins = -1
	case c.spins > 0:
		c.spins--
	}
	return c.now
}

func (c *fakeClock) Set(now int64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *fakeClock) AdvanceAfter(reads int) {
	c.mu.Lock()
	c.spins = reads
	c.mu.Unlock()
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name     string
		node, dc int64
		wantCode string
	}{
		{name: "zero", node: 0, dc: 0},
		{name: "max", node: 31, dc: 31},
		{name: "negative node", node: -1, dc: 0, wantCode: "node_id_out_of_range"},
		{name: "node too large", node: 32, dc: 0, wantCode: "node_id_out_of_range"},
		{name: "negative datacenter", node: 0, dc: -1, wantCode: "datacenter_id_out_of_range"},
		{name: "datacenter too large", node: 1, dc: 32, wantCode: "datacenter_id_out_of_range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGenerator(tt.node, tt.dc)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidInput)
				assert.Equal(t, tt.wantCode, xerrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.node, g.NodeID())
			assert.Equal(t, tt.dc, g.DatacenterID())
		})
	}
}

func TestNextID_KnownValues(t *testing.T) {
	clock := newFakeClock(Epoch + 1000)
	g, err := NewGenerator(1, 1, WithClock(clock))
	require.NoError(t, err)

	first, err := g.NextID()
	require.NoError(t, err)
	assert.Equal(t, int64(1000<<22|1<<17|1<<12|0), first)

	second, err := g.NextID()
	require.NoError(t, err)
	assert.Equal(t, int64(1000<<22|1<<17|1<<12|1), second)

	clock.Set(Epoch + 1001)
	third, err := g.NextID()
	require.NoError(t, err)
	assert.Equal(t, int64(1001<<22|1<<17|1<<12|0), third, "新的毫秒序列号归零")
}

func TestNextID_UniqueAndMonotonic(t *testing.T) {
	g, err := NewGenerator(3, 7)
	require.NoError(t, err)

	const n = 1_000_000
	seen := make(map[int64]struct{}, n)
	var last int64 = -1
	for i := 0; i < n; i++ {
		id, err := g.NextID()
		require.NoError(t, err)
		if id <= last {
			t.Fatalf("id %d not greater than previous %d at %d", id, last, i)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d at %d", id, i)
		}
		seen[id] = struct{}{}
		last = id
	}
	assert.Len(t, seen, n)
}

func TestNextID_Concurrent(t *testing.T) {
	g, err := NewGenerator(5, 2)
	require.NoError(t, err)

	const (
		workers = 16
		perG    = 20000
	)
	results := make([][]int64, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ids := make([]int64, 0, perG)
			for i := 0; i < perG; i++ {
				id, err := g.NextID()
				if err != nil {
					t.Errorf("NextID: %v", err)
					return
				}
				ids = append(ids, id)
			}
			results[w] = ids
		}(w)
	}
	wg.Wait()

	seen := make(map[int64]struct{}, workers*perG)
	for w, ids := range results {
		for i := 1; i < len(ids); i++ {
			assert.Greater(t, ids[i], ids[i-1], "worker %d sees increasing ids", w)
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	assert.Len(t, seen, workers*perG)
}

func TestNextID_ClockRegression(t *testing.T) {
	tm := newTestMeter(t)
	clock := newFakeClock(Epoch + 5000)
	g, err := NewGenerator(1, 0, WithClock(clock), WithMeter(tm.meter))
	require.NoError(t, err)

	_, err = g.NextID()
	require.NoError(t, err)
	_, err = g.NextID()
	require.NoError(t, err)
	lastStamp, seq := g.lastStamp, g.sequence

	clock.Set(Epoch + 4999)
	_, err = g.NextID()
	assert.ErrorIs(t, err, ErrClockRegression)
	assert.Equal(t, -1, int(g.Next()))
	assert.Equal(t, lastStamp, g.lastStamp, "回拨不修改状态")
	assert.Equal(t, seq, g.sequence, "回拨不修改状态")
	assert.Equal(t, int64(2), counterValue(t, tm.reader, MetricClockRegression))

	clock.Set(Epoch + 5000)
	id, err := g.NextID()
	require.NoError(t, err)
	assert.Equal(t, int64(2), Decompose(id).Sequence, "时钟恢复后序列号接续")
}

func TestNextID_Wraparound(t *testing.T) {
	tm := newTestMeter(t)
	clock := newFakeClock(Epoch + 100)
	g, err := NewGenerator(2, 3, WithClock(clock), WithMeter(tm.meter))
	require.NoError(t, err)

	for i := 0; i <= MaxSequence; i++ {
		id, err := g.NextID()
		require.NoError(t, err)
		p := Decompose(id)
		require.Equal(t, int64(100), p.TimestampOffset)
		require.Equal(t, int64(i), p.Sequence)
	}

	// 第 4097 次：序列号回绕，读时钟三次后才前进
	clock.AdvanceAfter(3)
	id, err := g.NextID()
	require.NoError(t, err)
	p := Decompose(id)
	assert.Equal(t, int64(101), p.TimestampOffset)
	assert.Equal(t, int64(0), p.Sequence)
	assert.Equal(t, int64(1), counterValue(t, tm.reader, MetricSequenceExhausted))
	assert.Equal(t, int64(MaxSequence+2), counterValue(t, tm.reader, MetricSnowflakeGenerated))

	id, err = g.NextID()
	require.NoError(t, err)
	assert.Equal(t, int64(1), Decompose(id).Sequence)
}

func TestNextID_OutOfRangeClock(t *testing.T) {
	clock := newFakeClock(Epoch - 1)
	g, err := NewGenerator(0, 0, WithClock(clock))
	require.NoError(t, err)

	_, err = g.NextID()
	assert.ErrorIs(t, err, ErrClockRegression)

	clock.Set(Epoch + MaxTimestamp + 1)
	_, err = g.NextID()
	assert.ErrorIs(t, err, ErrTimestampOverflow)

	clock.Set(Epoch + MaxTimestamp)
	id, err := g.NextID()
	require.NoError(t, err)
	assert.Greater(t, id, int64(0), "符号位始终为 0")
}

func TestNextN(t *testing.T) {
	clock := newFakeClock(Epoch + 10)
	g, err := NewGenerator(4, 4, WithClock(clock))
	require.NoError(t, err)

	_, err = g.NextN(0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	ids, err := g.NextN(5)
	require.NoError(t, err)
	require.Len(t, ids, 5)
	for i, id := range ids {
		assert.Equal(t, int64(i), Decompose(id).Sequence)
	}

	clock.Set(Epoch + 9)
	ids, err = g.NextN(3)
	assert.ErrorIs(t, err, ErrClockRegression)
	assert.Nil(t, ids)
}

func TestFence(t *testing.T) {
	g, err := NewGenerator(1, 1)
	require.NoError(t, err)
	assert.NoError(t, g.Fenced())

	_, err = g.NextID()
	require.NoError(t, err)

	cause := errors.New("lease lost")
	g.Fence(cause)
	g.Fence(errors.New("second"))

	_, err = g.NextID()
	assert.ErrorIs(t, err, ErrSlotLost)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, g.Fenced(), cause)
	assert.Equal(t, int64(-1), g.Next())

	other, err := NewGenerator(1, 1)
	require.NoError(t, err)
	other.Fence(nil)
	assert.ErrorIs(t, other.Fenced(), ErrSlotLost)
}

type testMeter struct {
	meter  metrics.Meter
	reader *sdkmetric.ManualReader
}

func newTestMeter(t *testing.T) testMeter {
	t.Helper()
	m, r := testkit.NewMeter(t)
	return testMeter{meter: m, reader: r}
}
