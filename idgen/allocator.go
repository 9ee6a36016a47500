package idgen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/coord"
	"github.com/ceyewan/idgend/metrics"
	"github.com/ceyewan/idgend/xerrors"
)

// retryInterval 续约出现临时错误后的重试间隔
const retryInterval = time.Second

// Allocator 在集群中为实例分配唯一的节点 ID（槽位）。
//
// Start 创建租约后依次尝试锁定槽位 0..MaxSlots-1，获得第一个空闲槽位后在后台续约。
// 续约失败时撤销租约释放槽位，并通过 Lost 和 WithOnLost 通知调用方，
// 此后继续使用该节点 ID 发号是不安全的。
type Allocator struct {
	store  coord.Store
	cfg    AllocatorConfig
	logger clog.Logger
	onLost func(error)

	renewals metrics.Counter
	node     metrics.Gauge

	mu      sync.Mutex
	started bool
	nodeID  int64
	lease   coord.LeaseID
	cancel  context.CancelFunc
	done    chan struct{}
	lost    chan error

	stopOnce sync.Once
	released bool
}

// NewAllocator 创建分配器，cfg 为 nil 时使用默认配置
func NewAllocator(store coord.Store, cfg *AllocatorConfig, opts ...Option) (*Allocator, error) {
	if store == nil {
		return nil, xerrors.WithCode(ErrInvalidInput, "store_nil")
	}
	var c AllocatorConfig
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	a := &Allocator{
		store:  store,
		cfg:    c,
		logger: o.logger,
		onLost: o.onLost,
		nodeID: -1,
		lost:   make(chan error, 1),
	}

	var err error
	if a.renewals, err = o.meter.Counter(MetricLeaseRenewals, "Total number of lease renewal rounds"); err != nil {
		return nil, xerrors.Wrap(err, "create renewals counter")
	}
	if a.node, err = o.meter.Gauge(MetricWorkerNode, "Node id currently held by this instance"); err != nil {
		return nil, xerrors.Wrap(err, "create node gauge")
	}
	return a, nil
}

// Start 分配节点 ID 并启动续约，成功后不可再次调用
func (a *Allocator) Start(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return -1, ErrAlreadyStarted
	}

	ttl := a.cfg.ttlSeconds()
	lease, err := a.store.Grant(ctx, ttl)
	if err != nil {
		a.logger.Error("failed to grant a lease", clog.Error(err))
		return -1, fmt.Errorf("%w: grant lease: %w", ErrStoreUnavailable, err)
	}
	a.logger.Info("grant a lease", clog.Int64("lease_id", int64(lease)), clog.Int64("ttl", ttl))

	var errs []error
	for i := 0; i < a.cfg.MaxSlots; i++ {
		name := a.cfg.slotName(i)
		a.logger.Debug("try to lock", clog.String("slot", name))

		ok, err := a.store.TryLock(ctx, name, lease)
		if err != nil {
			errs = append(errs, err)
			// 租约已失效或调用方放弃，后续槽位不会成功
			if xerrors.Is(err, coord.ErrLeaseNotFound) || ctx.Err() != nil {
				break
			}
			a.logger.Warn("failed to lock slot", clog.String("slot", name), clog.Error(err))
			continue
		}
		if !ok {
			continue
		}

		a.started = true
		a.nodeID = int64(i)
		a.lease = lease
		a.done = make(chan struct{})

		renewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.cancel = cancel
		go a.renew(renewCtx, lease, a.cfg.LeaseTTL)

		a.node.Set(ctx, float64(i))
		a.logger.Info("worker slot acquired",
			clog.Int64("node_id", int64(i)),
			clog.String("slot", name),
			clog.Int64("lease_id", int64(lease)),
		)
		return int64(i), nil
	}

	if err := a.store.Revoke(context.WithoutCancel(ctx), lease); err != nil {
		a.logger.Warn("failed to revoke lease", clog.Int64("lease_id", int64(lease)), clog.Error(err))
	}
	a.logger.Error("no available worker slot", clog.Int("max_slots", a.cfg.MaxSlots), clog.Int("errors", len(errs)))
	return -1, xerrors.Join(append([]error{ErrSlotsExhausted}, errs...)...)
}

// renew 续约循环。每轮续约后等待 TTL/3；临时错误只在租约仍确定存活时重试。
func (a *Allocator) renew(ctx context.Context, lease coord.LeaseID, ttl time.Duration) {
	defer close(a.done)
	defer close(a.lost)

	var (
		failures   int
		aliveUntil = time.Now().Add(ttl)
		wait       = renewInterval(ttl)
	)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		rctx, cancel := context.WithTimeout(ctx, a.cfg.RenewTimeout)
		newTTL, err := a.store.KeepAliveOnce(rctx, lease)
		cancel()
		if ctx.Err() != nil {
			return
		}

		if err == nil && newTTL > 0 {
			failures = 0
			ttl = time.Duration(newTTL) * time.Second
			aliveUntil = time.Now().Add(ttl)
			a.renewals.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeSuccess))
			a.logger.Debug("keep alive, new ttl", clog.Int64("lease_id", int64(lease)), clog.Int64("ttl", newTTL))
			timer.Reset(renewInterval(ttl))
			continue
		}
		if err == nil {
			err = xerrors.Wrapf(coord.ErrLeaseNotFound, "keep alive returned ttl %d", newTTL)
		}

		if !xerrors.Is(err, coord.ErrLeaseNotFound) {
			failures++
			next := time.Now().Add(retryInterval + a.cfg.RenewTimeout)
			if failures <= a.maxRetries(ttl) && next.Before(aliveUntil) {
				a.renewals.Inc(ctx, metrics.L(metrics.LabelOutcome, outcomeRetry))
				a.logger.Warn("keep alive failed, retrying",
					clog.Int64("lease_id", int64(lease)),
					clog.Int("attempt", failures),
					clog.Duration("remaining", time.Until(aliveUntil)),
					clog.Error(err),
				)
				timer.Reset(retryInterval)
				continue
			}
		}

		a.fail(ctx, lease, err)
		return
	}
}

// fail 续约失败：通知调用方熔断，撤销租约，发布错误
func (a *Allocator) fail(ctx context.Context, lease coord.LeaseID, cause error) {
	err := fmt.Errorf("%w: lease %s: %w", ErrLeaseRenewal, lease, cause)

	a.mu.Lock()
	nodeID := a.nodeID
	a.mu.Unlock()

	a.renewals.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeError))
	a.node.Set(ctx, -1)
	a.logger.Error("lease renewal failed, worker slot lost",
		clog.Int64("node_id", nodeID),
		clog.Int64("lease_id", int64(lease)),
		clog.Error(err),
	)

	if a.onLost != nil {
		a.onLost(err)
	}

	rctx, cancel := context.WithTimeout(ctx, a.cfg.RenewTimeout)
	if rerr := a.store.Revoke(rctx, lease); rerr != nil {
		a.logger.Warn("failed to revoke lost lease", clog.Int64("lease_id", int64(lease)), clog.Error(rerr))
	}
	cancel()

	a.lost <- err
}

// maxRetries 连续失败的最大重试轮数：floor(TTL/RenewTimeout)-1
func (a *Allocator) maxRetries(ttl time.Duration) int {
	return int(ttl/a.cfg.RenewTimeout) - 1
}

func renewInterval(ttl time.Duration) time.Duration {
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl / 3
}

// Lost 续约失败时收到一个错误；分配器停止或续约结束后关闭
func (a *Allocator) Lost() <-chan error {
	return a.lost
}

// NodeID 返回持有的节点 ID，未启动时返回 -1
func (a *Allocator) NodeID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nodeID
}

// LeaseID 返回当前租约，未启动时返回 coord.NoLease
func (a *Allocator) LeaseID() coord.LeaseID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lease
}

// Stop 停止续约并撤销租约，立即释放槽位。可重复调用；
// ctx 在续约循环退出或撤销完成前到期时返回错误，之后可再次调用 Stop 重试撤销。
func (a *Allocator) Stop(ctx context.Context) error {
	a.mu.Lock()
	started, cancel, done := a.started, a.cancel, a.done
	a.mu.Unlock()
	if !started {
		return nil
	}

	a.stopOnce.Do(cancel)
	select {
	case <-done:
	case <-ctx.Done():
		return xerrors.Wrap(ctx.Err(), "wait for renewal loop")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil
	}
	err := a.store.Revoke(ctx, a.lease)
	if err != nil && !xerrors.Is(err, coord.ErrLeaseNotFound) {
		return xerrors.Wrapf(err, "revoke lease %s", a.lease)
	}
	a.released = true
	a.node.Set(ctx, -1)
	a.logger.Info("worker slot released",
		clog.Int64("node_id", a.nodeID),
		clog.Int64("lease_id", int64(a.lease)),
	)
	return nil
}
