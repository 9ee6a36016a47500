package coord

import (
	"context"
	"errors"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/connector"
	"github.com/ceyewan/idgend/xerrors"
)

const defaultEtcdPrefix = "/idgend/locks/"

type etcdStore struct {
	client *clientv3.Client
	prefix string
	owner  string
	logger clog.Logger
}

// NewEtcd 基于 etcd 租约和事务实现 Store。conn 需已 Connect。
func NewEtcd(conn connector.EtcdConnector, opts ...Option) (Store, error) {
	if conn == nil || conn.GetClient() == nil {
		return nil, xerrors.Invalidf("etcd connector is nil")
	}
	o := applyOptions(defaultEtcdPrefix, opts)
	return &etcdStore{
		client: conn.GetClient(),
		prefix: o.prefix,
		owner:  o.owner,
		logger: o.logger.With(clog.String("driver", "etcd")),
	}, nil
}

func (s *etcdStore) Grant(ctx context.Context, ttl int64) (LeaseID, error) {
	if err := validateTTL(ttl); err != nil {
		return NoLease, err
	}
	resp, err := s.client.Grant(ctx, ttl)
	if err != nil {
		return NoLease, unavailable(err, "grant lease")
	}
	s.logger.Debug("lease granted", clog.Int64("lease_id", int64(resp.ID)), clog.Int64("ttl", resp.TTL))
	return LeaseID(resp.ID), nil
}

// TryLock 事务：key 不存在则绑定租约写入，否则读取当前持有者
func (s *etcdStore) TryLock(ctx context.Context, name string, lease LeaseID) (bool, error) {
	key := s.prefix + name
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, s.owner, clientv3.WithLease(clientv3.LeaseID(lease)))).
		Else(clientv3.OpGet(key)).
		Commit()
	if err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			return false, xerrors.Wrapf(ErrLeaseNotFound, "lease %s", lease)
		}
		return false, unavailable(err, "try lock "+name)
	}
	if resp.Succeeded {
		return true, nil
	}

	// 已被持有：同一租约视为已获得
	if rng := resp.Responses[0].GetResponseRange(); rng != nil && len(rng.Kvs) > 0 {
		return rng.Kvs[0].Lease == int64(lease), nil
	}
	return false, nil
}

func (s *etcdStore) KeepAliveOnce(ctx context.Context, lease LeaseID) (int64, error) {
	resp, err := s.client.KeepAliveOnce(ctx, clientv3.LeaseID(lease))
	if err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			return 0, xerrors.Wrapf(ErrLeaseNotFound, "lease %s", lease)
		}
		return 0, unavailable(err, "keep alive")
	}
	if resp.TTL <= 0 {
		return 0, xerrors.Wrapf(ErrLeaseNotFound, "lease %s", lease)
	}
	return resp.TTL, nil
}

func (s *etcdStore) Revoke(ctx context.Context, lease LeaseID) error {
	if _, err := s.client.Revoke(ctx, clientv3.LeaseID(lease)); err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			return nil
		}
		return unavailable(err, "revoke lease")
	}
	return nil
}
