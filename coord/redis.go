package coord

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/connector"
	"github.com/ceyewan/idgend/xerrors"
)

const defaultRedisPrefix = "idgend"

// Redis 没有原生租约：租约是一个带过期时间的 key，值为授予的 TTL；
// 锁 key 的值为租约 ID，过期时间跟随租约；租约持有的锁名记录在一个 set 中，续约和撤销时遍历。
var (
	// KEYS[1]=lease key ARGV[1]=ttl
	grantScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'EX', ARGV[1]) then
	return 1
end
return 0
`)

	// KEYS[1]=lease key KEYS[2]=lock key KEYS[3]=owned set ARGV[1]=lease id
	// 返回 1 获得，0 被占用，-1 租约不存在
	tryLockScript = redis.NewScript(`
local pttl = redis.call('PTTL', KEYS[1])
if pttl <= 0 then
	return -1
end
local cur = redis.call('GET', KEYS[2])
if cur == ARGV[1] then
	return 1
end
if cur then
	return 0
end
redis.call('SET', KEYS[2], ARGV[1], 'PX', pttl)
redis.call('SADD', KEYS[3], KEYS[2])
redis.call('PEXPIRE', KEYS[3], pttl)
return 1
`)

	// KEYS[1]=lease key KEYS[2]=owned set ARGV[1]=lease id
	// 返回续约后的 TTL，-1 租约不存在
	keepAliveScript = redis.NewScript(`
local ttl = tonumber(redis.call('GET', KEYS[1]))
if not ttl then
	return -1
end
redis.call('EXPIRE', KEYS[1], ttl)
local locks = redis.call('SMEMBERS', KEYS[2])
for _, k in ipairs(locks) do
	if redis.call('GET', k) == ARGV[1] then
		redis.call('EXPIRE', k, ttl)
	end
end
if #locks > 0 then
	redis.call('EXPIRE', KEYS[2], ttl)
end
return ttl
`)

	// KEYS[1]=lease key KEYS[2]=owned set ARGV[1]=lease id
	revokeScript = redis.NewScript(`
local locks = redis.call('SMEMBERS', KEYS[2])
for _, k in ipairs(locks) do
	if redis.call('GET', k) == ARGV[1] then
		redis.call('DEL', k)
	end
end
redis.call('DEL', KEYS[2])
return redis.call('DEL', KEYS[1])
`)
)

type redisStore struct {
	client *redis.Client
	prefix string
	logger clog.Logger
}

// NewRedis 基于 Redis key 过期和 Lua 脚本实现 Store。conn 需已 Connect。
// 仅支持单实例或主从部署，脚本会访问未声明在 KEYS 中的锁 key。
func NewRedis(conn connector.RedisConnector, opts ...Option) (Store, error) {
	if conn == nil || conn.GetClient() == nil {
		return nil, xerrors.Invalidf("redis connector is nil")
	}
	o := applyOptions(defaultRedisPrefix, opts)
	return &redisStore{
		client: conn.GetClient(),
		prefix: o.prefix,
		logger: o.logger.With(clog.String("driver", "redis")),
	}, nil
}

func (s *redisStore) leaseKey(id LeaseID) string { return s.prefix + ":lease:" + id.String() }
func (s *redisStore) ownedKey(id LeaseID) string { return s.prefix + ":lease:" + id.String() + ":locks" }
func (s *redisStore) lockKey(name string) string { return s.prefix + ":lock:" + name }

func (s *redisStore) Grant(ctx context.Context, ttl int64) (LeaseID, error) {
	if err := validateTTL(ttl); err != nil {
		return NoLease, err
	}
	seq, err := s.client.Incr(ctx, s.prefix+":lease:seq").Result()
	if err != nil {
		return NoLease, unavailable(err, "allocate lease id")
	}
	id := LeaseID(seq)

	ok, err := grantScript.Run(ctx, s.client, []string{s.leaseKey(id)}, ttl).Int()
	if err != nil {
		return NoLease, unavailable(err, "grant lease")
	}
	if ok != 1 {
		// 序号被重置后可能撞上仍存活的旧租约
		return NoLease, xerrors.Wrapf(ErrStoreUnavailable, "lease id %s already in use", id)
	}
	s.logger.Debug("lease granted", clog.Int64("lease_id", int64(id)), clog.Int64("ttl", ttl))
	return id, nil
}

func (s *redisStore) TryLock(ctx context.Context, name string, lease LeaseID) (bool, error) {
	keys := []string{s.leaseKey(lease), s.lockKey(name), s.ownedKey(lease)}
	res, err := tryLockScript.Run(ctx, s.client, keys, lease.String()).Int()
	if err != nil {
		return false, unavailable(err, "try lock "+name)
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, xerrors.Wrapf(ErrLeaseNotFound, "lease %s", lease)
	}
}

func (s *redisStore) KeepAliveOnce(ctx context.Context, lease LeaseID) (int64, error) {
	keys := []string{s.leaseKey(lease), s.ownedKey(lease)}
	ttl, err := keepAliveScript.Run(ctx, s.client, keys, lease.String()).Int64()
	if err != nil {
		return 0, unavailable(err, "keep alive")
	}
	if ttl <= 0 {
		return 0, xerrors.Wrapf(ErrLeaseNotFound, "lease %s", lease)
	}
	return ttl, nil
}

func (s *redisStore) Revoke(ctx context.Context, lease LeaseID) error {
	keys := []string{s.leaseKey(lease), s.ownedKey(lease)}
	if err := revokeScript.Run(ctx, s.client, keys, lease.String()).Err(); err != nil {
		return unavailable(err, "revoke lease")
	}
	return nil
}
