package coord

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/idgend/xerrors"
)

type memLease struct {
	ttl      time.Duration
	deadline time.Time
	locks    map[string]struct{}
}

// Memory 进程内模拟的协调存储。租约按注入的时钟过期，
// 用于测试以及单节点开发（coord.driver=memory）。
type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID LeaseID
	leases map[LeaseID]*memLease
	locks  map[string]LeaseID
}

var _ Store = (*Memory)(nil)

// NewMemory 创建内存存储，仅 WithClock 选项生效
func NewMemory(opts ...Option) *Memory {
	o := applyOptions("", opts)
	return &Memory{
		now:    o.now,
		leases: make(map[LeaseID]*memLease),
		locks:  make(map[string]LeaseID),
	}
}

func (m *Memory) Grant(ctx context.Context, ttl int64) (LeaseID, error) {
	if err := ctx.Err(); err != nil {
		return NoLease, err
	}
	if err := validateTTL(ttl); err != nil {
		return NoLease, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d := time.Duration(ttl) * time.Second
	m.leases[m.nextID] = &memLease{ttl: d, deadline: m.now().Add(d), locks: make(map[string]struct{})}
	return m.nextID, nil
}

func (m *Memory) TryLock(ctx context.Context, name string, lease LeaseID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	l, ok := m.leases[lease]
	if !ok {
		return false, xerrors.Wrapf(ErrLeaseNotFound, "lease %s", lease)
	}
	if holder, held := m.locks[name]; held {
		return holder == lease, nil
	}
	m.locks[name] = lease
	l.locks[name] = struct{}{}
	return true, nil
}

func (m *Memory) KeepAliveOnce(ctx context.Context, lease LeaseID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	l, ok := m.leases[lease]
	if !ok {
		return 0, xerrors.Wrapf(ErrLeaseNotFound, "lease %s", lease)
	}
	l.deadline = m.now().Add(l.ttl)
	return int64(l.ttl / time.Second), nil
}

func (m *Memory) Revoke(ctx context.Context, lease LeaseID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(lease)
	return nil
}

// Expire 立即让租约过期，模拟持有者停止续约
func (m *Memory) Expire(lease LeaseID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(lease)
}

// Holder 返回当前持有 name 的租约
func (m *Memory) Holder(name string) (LeaseID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	lease, ok := m.locks[name]
	return lease, ok
}

// sweepLocked 清理已过期租约，调用方需持有 mu
func (m *Memory) sweepLocked() {
	now := m.now()
	for id, l := range m.leases {
		if !now.Before(l.deadline) {
			m.dropLocked(id)
		}
	}
}

func (m *Memory) dropLocked(lease LeaseID) {
	l, ok := m.leases[lease]
	if !ok {
		return
	}
	for name := range l.locks {
		if m.locks[name] == lease {
			delete(m.locks, name)
		}
	}
	delete(m.leases, lease)
}
