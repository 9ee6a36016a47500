package coord

import (
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/idgend/clog"
)

// Option 存储选项
type Option func(*options)

type options struct {
	prefix string
	owner  string
	logger clog.Logger
	now    func() time.Time
}

func applyOptions(defaultPrefix string, opts []Option) *options {
	host, _ := os.Hostname()
	o := &options{
		prefix: defaultPrefix,
		owner:  host + "/" + uuid.NewString(),
		logger: clog.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithKeyPrefix 设置锁与租约的 key 前缀
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithOwner 设置写入锁值的实例标识，默认 hostname/uuid。仅 etcd 使用。
func WithOwner(owner string) Option {
	return func(o *options) {
		if owner != "" {
			o.owner = owner
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.With(clog.Component("coord"))
		}
	}
}

// WithClock 替换内存存储使用的时钟，用于模拟租约过期
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
