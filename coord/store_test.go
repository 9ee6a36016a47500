package coord_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/idgend/coord"
	"github.com/ceyewan/idgend/testkit"
)

// runStoreContract 对任意 Store 实现执行相同的语义检查
func runStoreContract(t *testing.T, newStore func(t *testing.T) coord.Store) {
	t.Run("invalid ttl", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Grant(context.Background(), 0)
		assert.ErrorIs(t, err, coord.ErrInvalidTTL)
	})

	t.Run("exclusive lock", func(t *testing.T) {
		s := newStore(t)
		ctx := testkit.NewContext(t, 10*time.Second)
		name := "slot-" + testkit.NewID()

		a, err := s.Grant(ctx, 10)
		require.NoError(t, err)
		b, err := s.Grant(ctx, 10)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
		t.Cleanup(func() {
			_ = s.Revoke(context.Background(), a)
			_ = s.Revoke(context.Background(), b)
		})

		ok, err := s.TryLock(ctx, name, a)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.TryLock(ctx, name, b)
		require.NoError(t, err)
		assert.False(t, ok, "已被 a 持有")

		ok, err = s.TryLock(ctx, name, a)
		require.NoError(t, err)
		assert.True(t, ok, "同一租约重复获取")
	})

	t.Run("revoke releases locks", func(t *testing.T) {
		s := newStore(t)
		ctx := testkit.NewContext(t, 10*time.Second)
		name := "slot-" + testkit.NewID()

		a, err := s.Grant(ctx, 10)
		require.NoError(t, err)
		b, err := s.Grant(ctx, 10)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Revoke(context.Background(), b) })

		ok, err := s.TryLock(ctx, name, a)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, s.Revoke(ctx, a))
		require.NoError(t, s.Revoke(ctx, a), "重复撤销不报错")

		ok, err = s.TryLock(ctx, name, b)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = s.KeepAliveOnce(ctx, a)
		assert.ErrorIs(t, err, coord.ErrLeaseNotFound)
		_, err = s.TryLock(ctx, "other-"+testkit.NewID(), a)
		assert.ErrorIs(t, err, coord.ErrLeaseNotFound)
	})

	t.Run("keepalive returns ttl", func(t *testing.T) {
		s := newStore(t)
		ctx := testkit.NewContext(t, 10*time.Second)

		lease, err := s.Grant(ctx, 5)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Revoke(context.Background(), lease) })

		ttl, err := s.KeepAliveOnce(ctx, lease)
		require.NoError(t, err)
		assert.Equal(t, int64(5), ttl)
	})

	t.Run("concurrent acquisition has one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := testkit.NewContext(t, 10*time.Second)
		name := "slot-" + testkit.NewID()

		const n = 8
		var (
			wg      sync.WaitGroup
			winners atomic.Int32
		)
		for i := 0; i < n; i++ {
			lease, err := s.Grant(ctx, 10)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Revoke(context.Background(), lease) })

			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.TryLock(ctx, name, lease)
				if assert.NoError(t, err) && ok {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) coord.Store { return coord.NewMemory() })
}

func TestMemoryStoreExpiry(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Unix(1700000000, 0)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	s := coord.NewMemory(coord.WithClock(clock))
	ctx := context.Background()

	a, err := s.Grant(ctx, 15)
	require.NoError(t, err)
	ok, err := s.TryLock(ctx, "slot-0", a)
	require.NoError(t, err)
	require.True(t, ok)

	advance(10 * time.Second)
	_, err = s.KeepAliveOnce(ctx, a)
	require.NoError(t, err, "续约在过期前")

	advance(10 * time.Second)
	holder, held := s.Holder("slot-0")
	assert.True(t, held, "续约后截止时间顺延")
	assert.Equal(t, a, holder)

	advance(15 * time.Second)
	_, held = s.Holder("slot-0")
	assert.False(t, held)
	_, err = s.KeepAliveOnce(ctx, a)
	assert.ErrorIs(t, err, coord.ErrLeaseNotFound)

	b, err := s.Grant(ctx, 15)
	require.NoError(t, err)
	ok, err = s.TryLock(ctx, "slot-0", b)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreExpireHook(t *testing.T) {
	s := coord.NewMemory()
	ctx := context.Background()

	a, err := s.Grant(ctx, 15)
	require.NoError(t, err)
	ok, err := s.TryLock(ctx, "slot-1", a)
	require.NoError(t, err)
	require.True(t, ok)

	s.Expire(a)
	_, held := s.Holder("slot-1")
	assert.False(t, held)
	_, err = s.KeepAliveOnce(ctx, a)
	assert.ErrorIs(t, err, coord.ErrLeaseNotFound)
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	s := coord.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Grant(ctx, 15)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEtcdStore(t *testing.T) {
	conn := testkit.GetEtcdConnector(t)
	prefix := "/idgend/test/" + testkit.NewID() + "/"
	runStoreContract(t, func(t *testing.T) coord.Store {
		s, err := coord.NewEtcd(conn, coord.WithKeyPrefix(prefix), coord.WithLogger(testkit.NewLogger()))
		require.NoError(t, err)
		return s
	})
}

func TestRedisStore(t *testing.T) {
	conn := testkit.GetRedisConnector(t)
	prefix := "idgend:test:" + testkit.NewID()
	runStoreContract(t, func(t *testing.T) coord.Store {
		s, err := coord.NewRedis(conn, coord.WithKeyPrefix(prefix), coord.WithLogger(testkit.NewLogger()))
		require.NoError(t, err)
		return s
	})
}

func TestNewStoreNilConnector(t *testing.T) {
	_, err := coord.NewEtcd(nil)
	assert.Error(t, err)
	_, err = coord.NewRedis(nil)
	assert.Error(t, err)
}
