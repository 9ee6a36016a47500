// Package coord 定义 Worker 槽位分配所依赖的协调存储契约：租约 + 绑定租约的互斥锁。
//
// 语义：
//   - Grant 创建带 TTL 的租约，到期或 Revoke 后租约上的所有锁自动释放
//   - TryLock 原子地尝试以租约持有某个锁名，已被其他存活租约持有时返回 (false, nil)
//   - KeepAliveOnce 续约一次并返回新的 TTL，租约已不存在时返回 ErrLeaseNotFound
//
// 提供三种实现：etcd（NewEtcd）、Redis（NewRedis）和进程内模拟（NewMemory）。
package coord

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ceyewan/idgend/xerrors"
)

// LeaseID 租约标识
type LeaseID int64

func (id LeaseID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// NoLease 表示尚未持有租约
const NoLease LeaseID = 0

// Store 协调存储
type Store interface {
	// Grant 创建 TTL 为 ttlSeconds 秒的租约
	Grant(ctx context.Context, ttlSeconds int64) (LeaseID, error)
	// TryLock 以 lease 尝试持有 name，不等待。
	// 同一租约重复获取同一锁名返回 true。
	TryLock(ctx context.Context, name string, lease LeaseID) (bool, error)
	// KeepAliveOnce 续约一次，返回续约后的 TTL（秒）
	KeepAliveOnce(ctx context.Context, lease LeaseID) (int64, error)
	// Revoke 撤销租约并释放其上的锁，租约不存在时不报错
	Revoke(ctx context.Context, lease LeaseID) error
}

var (
	// ErrLeaseNotFound 租约已过期或被撤销
	ErrLeaseNotFound = xerrors.New("coord: lease not found")
	// ErrInvalidTTL TTL 必须为正数
	ErrInvalidTTL = xerrors.New("coord: ttl must be positive")
	// ErrStoreUnavailable 后端出现连通性错误
	ErrStoreUnavailable = xerrors.Derive(xerrors.ErrUnavailable, "coord: store unavailable")
)

func validateTTL(ttl int64) error {
	if ttl <= 0 {
		return xerrors.Wrapf(ErrInvalidTTL, "got %d", ttl)
	}
	return nil
}

// unavailable 同时保留 ErrStoreUnavailable 和原始错误（例如 context.DeadlineExceeded）
func unavailable(err error, op string) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
