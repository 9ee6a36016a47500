package main

import (
	"sync"

	"github.com/ceyewan/idgend/idgen"
)

// slotFence 在槽位丢失时熔断生成器，作为分配器的 WithOnLost 回调，在撤销租约之前执行。
// 生成器要在分配到节点 ID 之后才能创建，因此延迟绑定；绑定前发生的丢失在 bind 时补上。
type slotFence struct {
	mu    sync.Mutex
	gen   *idgen.Generator
	cause error
}

func (f *slotFence) onLost(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cause == nil {
		f.cause = err
	}
	if f.gen != nil {
		f.gen.Fence(err)
	}
}

func (f *slotFence) bind(gen *idgen.Generator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen = gen
	if f.cause != nil {
		gen.Fence(f.cause)
	}
}
