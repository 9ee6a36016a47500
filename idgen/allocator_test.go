package idgen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/idgend/coord"
	"github.com/ceyewan/idgend/testkit"
	"github.com/ceyewan/idgend/xerrors"
)

var errFlaky = xerrors.Wrap(coord.ErrStoreUnavailable, "connection refused")

// flakyStore 在内存存储上注入故障
type flakyStore struct {
	coord.Store

	mu             sync.Mutex
	grantErr       error
	lockErrs       map[string]error
	keepAliveFails int // 剩余需要失败的续约次数，-1 表示一直失败
	keepAlives     int
	revokeErr      error
	onRevoke       func(coord.LeaseID)
	revoked        []coord.LeaseID
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: coord.NewMemory(), lockErrs: map[string]error{}}
}

func (s *flakyStore) Grant(ctx context.Context, ttl int64) (coord.LeaseID, error) {
	s.mu.Lock()
	err := s.grantErr
	s.mu.Unlock()
	if err != nil {
		return coord.NoLease, err
	}
	return s.Store.Grant(ctx, ttl)
}

func (s *flakyStore) TryLock(ctx context.Context, name string, lease coord.LeaseID) (bool, error) {
	s.mu.Lock()
	err := s.lockErrs[name]
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.Store.TryLock(ctx, name, lease)
}

func (s *flakyStore) KeepAliveOnce(ctx context.Context, lease coord.LeaseID) (int64, error) {
	s.mu.Lock()
	s.keepAlives++
	fail := s.keepAliveFails != 0
	if s.keepAliveFails > 0 {
		s.keepAliveFails--
	}
	s.mu.Unlock()
	if fail {
		return 0, errFlaky
	}
	return s.Store.KeepAliveOnce(ctx, lease)
}

func (s *flakyStore) Revoke(ctx context.Context, lease coord.LeaseID) error {
	s.mu.Lock()
	err, hook := s.revokeErr, s.onRevoke
	if err == nil {
		s.revoked = append(s.revoked, lease)
	}
	s.mu.Unlock()
	if hook != nil {
		hook(lease)
	}
	if err != nil {
		return err
	}
	return s.Store.Revoke(ctx, lease)
}

func (s *flakyStore) setRevokeErr(err error) {
	s.mu.Lock()
	s.revokeErr = err
	s.mu.Unlock()
}

func (s *flakyStore) keepAliveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepAlives
}

func (s *flakyStore) revokedLeases() []coord.LeaseID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]coord.LeaseID(nil), s.revoked...)
}

// Holder 委托给底层内存存储
func (s *flakyStore) Holder(name string) (coord.LeaseID, bool) {
	return s.Store.(*coord.Memory).Holder(name)
}

func startAllocator(t *testing.T, store coord.Store, cfg *AllocatorConfig, opts ...Option) (*Allocator, int64) {
	t.Helper()
	a, err := NewAllocator(store, cfg, append([]Option{WithLogger(testkit.NewLogger())}, opts...)...)
	require.NoError(t, err)
	id, err := a.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a, id
}

func waitLost(t *testing.T, a *Allocator, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-a.Lost():
		return err
	case <-time.After(timeout):
		t.Fatalf("allocator did not report slot loss within %v", timeout)
		return nil
	}
}

func TestNewAllocator_Config(t *testing.T) {
	store := coord.NewMemory()
	tests := []struct {
		name     string
		cfg      *AllocatorConfig
		wantCode string
	}{
		{name: "nil config uses defaults", cfg: nil},
		{name: "explicit", cfg: &AllocatorConfig{SlotPrefix: "w-", MaxSlots: 4, LeaseTTL: 6 * time.Second, RenewTimeout: time.Second}},
		{name: "too many slots", cfg: &AllocatorConfig{MaxSlots: 33}, wantCode: "max_slots_out_of_range"},
		{name: "negative slots", cfg: &AllocatorConfig{MaxSlots: -1}, wantCode: "max_slots_out_of_range"},
		{name: "ttl too short", cfg: &AllocatorConfig{LeaseTTL: 500 * time.Millisecond}, wantCode: "lease_ttl_too_short"},
		{name: "renew timeout too long", cfg: &AllocatorConfig{LeaseTTL: 3 * time.Second, RenewTimeout: 3 * time.Second}, wantCode: "renew_timeout_out_of_range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAllocator(store, tt.cfg)
			if tt.wantCode != "" {
				assert.ErrorIs(t, err, ErrInvalidInput)
				assert.Equal(t, tt.wantCode, xerrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(-1), a.NodeID())
			assert.Equal(t, coord.NoLease, a.LeaseID())
		})
	}

	_, err := NewAllocator(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDefaultAllocatorConfig(t *testing.T) {
	cfg := DefaultAllocatorConfig()
	assert.Equal(t, "id-gen-worker-", cfg.SlotPrefix)
	assert.Equal(t, 32, cfg.MaxSlots)
	assert.Equal(t, 15*time.Second, cfg.LeaseTTL)
	assert.Equal(t, 5*time.Second, cfg.RenewTimeout)
	assert.Equal(t, "id-gen-worker-7", cfg.slotName(7))
	assert.Equal(t, 2, (&Allocator{cfg: *cfg}).maxRetries(cfg.LeaseTTL))
}

func TestAllocator_SlotExclusivity(t *testing.T) {
	clock := testkit.NewManualClock()
	store := testkit.NewMemoryStore(clock)
	cfg := &AllocatorConfig{MaxSlots: 2}

	a1, id1 := startAllocator(t, store, cfg)
	a2, id2 := startAllocator(t, store, cfg)
	assert.Equal(t, int64(0), id1)
	assert.Equal(t, int64(1), id2)

	holder, ok := store.Holder("id-gen-worker-0")
	require.True(t, ok)
	assert.Equal(t, a1.LeaseID(), holder)
	holder, ok = store.Holder("id-gen-worker-1")
	require.True(t, ok)
	assert.Equal(t, a2.LeaseID(), holder)

	a3, err := NewAllocator(store, cfg)
	require.NoError(t, err)
	_, err = a3.Start(context.Background())
	assert.ErrorIs(t, err, ErrSlotsExhausted)
	assert.Equal(t, int64(-1), a3.NodeID())

	// 两个租约都未在 TTL 内续约
	clock.Advance(16 * time.Second)

	id3, err := a3.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a3.Stop(context.Background()) })
	assert.Equal(t, int64(0), id3)
}

func TestAllocator_ConcurrentStart(t *testing.T) {
	tests := []struct {
		name      string
		instances int
		maxSlots  int
	}{
		{name: "enough slots", instances: 16, maxSlots: 32},
		{name: "oversubscribed", instances: 12, maxSlots: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := coord.NewMemory()
			cfg := &AllocatorConfig{MaxSlots: tt.maxSlots}

			allocs := make([]*Allocator, tt.instances)
			ids := make([]int64, tt.instances)
			errs := make([]error, tt.instances)
			for i := range allocs {
				a, err := NewAllocator(store, cfg)
				require.NoError(t, err)
				allocs[i] = a
				t.Cleanup(func() { _ = a.Stop(context.Background()) })
			}

			var wg sync.WaitGroup
			gate := make(chan struct{})
			for i, a := range allocs {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-gate
					ids[i], errs[i] = a.Start(context.Background())
				}()
			}
			close(gate)
			wg.Wait()

			seen := map[int64]int{}
			for i, err := range errs {
				if err != nil {
					assert.ErrorIs(t, err, ErrSlotsExhausted)
					continue
				}
				if prev, dup := seen[ids[i]]; dup {
					t.Fatalf("allocators %d and %d both got node id %d", prev, i, ids[i])
				}
				seen[ids[i]] = i

				holder, ok := store.Holder(cfg.slotName(int(ids[i])))
				require.True(t, ok)
				assert.Equal(t, allocs[i].LeaseID(), holder, "槽位由胜出者的租约持有")
			}
			assert.Len(t, seen, min(tt.instances, tt.maxSlots))
		})
	}
}

func TestAllocator_ExpiredLeaseSlotReused(t *testing.T) {
	store := testkit.NewMemoryStore(nil)
	cfg := &AllocatorConfig{MaxSlots: 3}

	a1, _ := startAllocator(t, store, cfg)
	_, id2 := startAllocator(t, store, cfg)
	assert.Equal(t, int64(1), id2)

	store.Expire(a1.LeaseID())

	_, id3 := startAllocator(t, store, cfg)
	assert.Equal(t, int64(0), id3, "过期槽位被最小序号优先复用")
}

func TestAllocator_StartTwice(t *testing.T) {
	a, _ := startAllocator(t, coord.NewMemory(), nil)
	_, err := a.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestAllocator_StopReleasesSlot(t *testing.T) {
	store := coord.NewMemory()
	a, err := NewAllocator(store, nil)
	require.NoError(t, err)
	assert.NoError(t, a.Stop(context.Background()), "未启动时 Stop 无操作")

	id, err := a.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	require.NoError(t, a.Stop(context.Background()))
	require.NoError(t, a.Stop(context.Background()))

	_, held := store.Holder("id-gen-worker-0")
	assert.False(t, held)

	select {
	case err, ok := <-a.Lost():
		assert.False(t, ok, "正常停止只关闭通道")
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lost channel not closed after Stop")
	}

	_, id2 := startAllocator(t, store, nil)
	assert.Equal(t, int64(0), id2)
}

func TestAllocator_StopRetriesRevoke(t *testing.T) {
	store := newFlakyStore()
	a, err := NewAllocator(store, nil)
	require.NoError(t, err)
	_, err = a.Start(context.Background())
	require.NoError(t, err)

	store.setRevokeErr(errFlaky)
	assert.ErrorIs(t, a.Stop(context.Background()), coord.ErrStoreUnavailable)
	_, held := store.Holder("id-gen-worker-0")
	assert.True(t, held, "撤销失败时槽位仍被持有")

	store.setRevokeErr(nil)
	require.NoError(t, a.Stop(context.Background()), "再次 Stop 重试撤销")
	_, held = store.Holder("id-gen-worker-0")
	assert.False(t, held)
	assert.Len(t, store.revokedLeases(), 1)

	require.NoError(t, a.Stop(context.Background()))
	assert.Len(t, store.revokedLeases(), 1, "已释放后不再撤销")
}

// stuckKeepAlive 的续约调用忽略 ctx，直到 release 关闭才返回
type stuckKeepAlive struct {
	coord.Store
	entered chan struct{}
	release chan struct{}
}

func (s *stuckKeepAlive) KeepAliveOnce(_ context.Context, lease coord.LeaseID) (int64, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return s.Store.KeepAliveOnce(context.Background(), lease)
}

func TestAllocator_StopContextExpired(t *testing.T) {
	mem := coord.NewMemory()
	store := &stuckKeepAlive{Store: mem, entered: make(chan struct{}, 1), release: make(chan struct{})}
	a, err := NewAllocator(store, &AllocatorConfig{MaxSlots: 1, LeaseTTL: 3 * time.Second, RenewTimeout: time.Second})
	require.NoError(t, err)
	_, err = a.Start(context.Background())
	require.NoError(t, err)

	select {
	case <-store.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("keep alive not called")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Stop(ctx), context.DeadlineExceeded)
	_, held := mem.Holder("id-gen-worker-0")
	assert.True(t, held, "续约循环未退出时不撤销")

	close(store.release)
	require.NoError(t, a.Stop(context.Background()), "ctx 到期后可再次 Stop")
	_, held = mem.Holder("id-gen-worker-0")
	assert.False(t, held)
}

func TestAllocator_OnLostBeforeRevoke(t *testing.T) {
	store := newFlakyStore()
	store.keepAliveFails = -1

	gen, err := NewGenerator(0, 0)
	require.NoError(t, err)

	var fencedAtRevoke error
	revoked := make(chan struct{}, 1)
	store.onRevoke = func(coord.LeaseID) {
		fencedAtRevoke = gen.Fenced()
		select {
		case revoked <- struct{}{}:
		default:
		}
	}

	cfg := &AllocatorConfig{LeaseTTL: 3 * time.Second, RenewTimeout: time.Second}
	a, _ := startAllocator(t, store, cfg, WithOnLost(gen.Fence))
	require.Error(t, waitLost(t, a, 10*time.Second))
	<-revoked

	assert.ErrorIs(t, fencedAtRevoke, ErrSlotLost, "撤销租约时生成器已熔断")
	_, err = gen.NextID()
	assert.ErrorIs(t, err, ErrSlotLost)
}

func TestAllocator_GrantFailure(t *testing.T) {
	store := newFlakyStore()
	store.grantErr = errFlaky

	a, err := NewAllocator(store, nil)
	require.NoError(t, err)
	_, err = a.Start(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, coord.ErrStoreUnavailable)
	assert.ErrorIs(t, err, xerrors.ErrUnavailable, "属于跨包的不可用类别")
	assert.Equal(t, int64(-1), a.NodeID())
}

func TestAllocator_ScanSkipsFailingSlot(t *testing.T) {
	store := newFlakyStore()
	store.lockErrs["id-gen-worker-0"] = errFlaky

	_, id := startAllocator(t, store, nil)
	assert.Equal(t, int64(1), id)
}

func TestAllocator_ExhaustedRevokesLease(t *testing.T) {
	store := newFlakyStore()
	store.lockErrs["id-gen-worker-1"] = errFlaky
	cfg := &AllocatorConfig{MaxSlots: 2}

	startAllocator(t, store, cfg)

	a, err := NewAllocator(store, cfg)
	require.NoError(t, err)
	_, err = a.Start(context.Background())
	assert.ErrorIs(t, err, ErrSlotsExhausted)
	assert.ErrorIs(t, err, coord.ErrStoreUnavailable, "单个槽位的错误一并返回")

	revoked := store.revokedLeases()
	require.Len(t, revoked, 1)
	_, err = store.Store.KeepAliveOnce(context.Background(), revoked[0])
	assert.ErrorIs(t, err, coord.ErrLeaseNotFound)
}

func TestAllocator_RenewalKeepsSlot(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for renewal rounds")
	}
	tm := newTestMeter(t)
	store := newFlakyStore()
	cfg := &AllocatorConfig{LeaseTTL: 3 * time.Second}

	a, _ := startAllocator(t, store, cfg, WithMeter(tm.meter))
	time.Sleep(3500 * time.Millisecond)

	assert.GreaterOrEqual(t, store.keepAliveCount(), 2)
	holder, ok := store.Store.(*coord.Memory).Holder("id-gen-worker-0")
	require.True(t, ok, "续约后槽位仍被持有")
	assert.Equal(t, a.LeaseID(), holder)
	assert.GreaterOrEqual(t, counterValue(t, tm.reader, MetricLeaseRenewals), int64(2))
}

func TestAllocator_RenewalFailureFencesGenerator(t *testing.T) {
	store := newFlakyStore()
	mem := store.Store.(*coord.Memory)
	gen, err := NewGenerator(0, 0)
	require.NoError(t, err)

	var (
		hookMu  sync.Mutex
		hookErr error
	)
	a, id := startAllocator(t, store, &AllocatorConfig{LeaseTTL: 3 * time.Second},
		WithOnLost(func(err error) {
			hookMu.Lock()
			hookErr = err
			hookMu.Unlock()
			gen.Fence(err)
		}))
	require.Equal(t, int64(0), id)

	// 模拟租约在续约前被服务端回收
	mem.Expire(a.LeaseID())

	lostErr := waitLost(t, a, 5*time.Second)
	require.Error(t, lostErr)
	assert.ErrorIs(t, lostErr, ErrLeaseRenewal)
	assert.ErrorIs(t, lostErr, coord.ErrLeaseNotFound)

	hookMu.Lock()
	assert.Equal(t, lostErr, hookErr)
	hookMu.Unlock()

	_, err = gen.NextID()
	assert.ErrorIs(t, err, ErrSlotLost)
	assert.ErrorIs(t, err, ErrLeaseRenewal)

	_, ok := <-a.Lost()
	assert.False(t, ok, "发布错误后关闭")
	assert.Contains(t, store.revokedLeases(), a.LeaseID(), "释放槽位")
	assert.NoError(t, a.Stop(context.Background()))
}

func TestAllocator_TransientErrorRetried(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for renewal rounds")
	}
	store := newFlakyStore()
	store.keepAliveFails = 1
	cfg := &AllocatorConfig{LeaseTTL: 6 * time.Second, RenewTimeout: time.Second}

	a, _ := startAllocator(t, store, cfg)

	// 第一轮在 2s 失败，1s 后重试成功
	time.Sleep(3500 * time.Millisecond)
	assert.GreaterOrEqual(t, store.keepAliveCount(), 2)
	select {
	case err := <-a.Lost():
		t.Fatalf("unexpected slot loss: %v", err)
	default:
	}
	assert.Equal(t, int64(0), a.NodeID())
}

func TestAllocator_PersistentErrorLosesSlot(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for renewal rounds")
	}
	store := newFlakyStore()
	store.keepAliveFails = -1
	cfg := &AllocatorConfig{LeaseTTL: 6 * time.Second, RenewTimeout: time.Second}

	start := time.Now()
	a, _ := startAllocator(t, store, cfg)

	lostErr := waitLost(t, a, 10*time.Second)
	assert.ErrorIs(t, lostErr, ErrLeaseRenewal)
	assert.True(t, errors.Is(lostErr, coord.ErrStoreUnavailable))
	assert.Less(t, time.Since(start), 6*time.Second, "租约到期前放弃")
	assert.GreaterOrEqual(t, store.keepAliveCount(), 2, "租约存活期间重试")
}
