package testkit

import (
	"sync"
	"time"

	"github.com/ceyewan/idgend/coord"
)

// ManualClock 手动推进的时钟，用于控制内存存储中的租约过期
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock 从固定时间点开始
func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// NewMemoryStore 返回模拟协调存储。clock 为 nil 时使用真实时间。
func NewMemoryStore(clock *ManualClock) *coord.Memory {
	if clock == nil {
		return coord.NewMemory()
	}
	return coord.NewMemory(coord.WithClock(clock.Now))
}
