package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/idgend/clog"
)

const globalLimitKey = "*"

type bucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

// idLimiter 令牌桶限流，每个 ID 消耗一个令牌
type idLimiter struct {
	cfg     RateLimitConfig
	logger  clog.Logger
	buckets sync.Map // map[string]*bucket
	stopCh  chan struct{}
	once    sync.Once
}

// newIDLimiter Rate 为 0 时返回 nil
func newIDLimiter(cfg RateLimitConfig, logger clog.Logger) *idLimiter {
	if cfg.Rate <= 0 {
		return nil
	}
	l := &idLimiter{cfg: cfg, logger: logger, stopCh: make(chan struct{})}
	if cfg.PerClient {
		go l.cleanup(cfg.IdleTimeout)
	}
	logger.Info("id rate limiter enabled",
		clog.Float64("rate", cfg.Rate),
		clog.Int("burst", cfg.Burst),
		clog.Bool("per_client", cfg.PerClient),
	)
	return l
}

// AllowN 尝试为 client 取 n 个令牌
func (l *idLimiter) AllowN(client string, n int) bool {
	key := globalLimitKey
	if l.cfg.PerClient {
		key = client
	}

	b := l.bucket(key)
	now := time.Now()
	b.mu.Lock()
	allowed := b.limiter.AllowN(now, n)
	b.lastSeen = now
	b.mu.Unlock()
	return allowed
}

func (l *idLimiter) bucket(key string) *bucket {
	if v, ok := l.buckets.Load(key); ok {
		return v.(*bucket)
	}
	b := &bucket{
		limiter:  rate.NewLimiter(rate.Limit(l.cfg.Rate), l.cfg.Burst),
		lastSeen: time.Now(),
	}
	actual, _ := l.buckets.LoadOrStore(key, b)
	return actual.(*bucket)
}

// cleanup 回收闲置的客户端令牌桶
func (l *idLimiter) cleanup(idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			count := 0
			l.buckets.Range(func(key, value any) bool {
				b := value.(*bucket)
				b.mu.Lock()
				expired := now.Sub(b.lastSeen) > idle
				b.mu.Unlock()
				if expired {
					l.buckets.Delete(key)
					count++
				}
				return true
			})
			if count > 0 {
				l.logger.Debug("cleaned up idle limiters", clog.Int("count", count))
			}
		case <-l.stopCh:
			return
		}
	}
}

func (l *idLimiter) Close() {
	if l == nil {
		return
	}
	l.once.Do(func() { close(l.stopCh) })
}
