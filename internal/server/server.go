// Package server 提供 idgend 的 HTTP 接口。
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/metrics"
	"github.com/ceyewan/idgend/trace"
	"github.com/ceyewan/idgend/xerrors"
)

// MetricIDsRateLimited 因限流被拒绝的 ID 数 (Counter)
const MetricIDsRateLimited = "idgen_ids_rate_limited_total"

// 探活接口，不计入 HTTP 指标
const routeHealthz = "/healthz"

// Generator 服务端依赖的发号能力，由 *idgen.Generator 实现
type Generator interface {
	NextN(n int) ([]int64, error)
	NodeID() int64
	Fenced() error
}

// HealthFunc 检查外部依赖，返回错误时 /healthz 返回 503
type HealthFunc func(ctx context.Context) error

// Option 服务选项
type Option func(*Server)

// WithLogger 设置日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.With(clog.Component("server"))
		}
	}
}

// WithMeter 设置 Meter，用于 HTTP 指标和限流计数
func WithMeter(meter metrics.Meter) Option {
	return func(s *Server) {
		if meter != nil {
			s.meter = meter
		}
	}
}

// WithHealthCheck 追加健康检查
func WithHealthCheck(fn HealthFunc) Option {
	return func(s *Server) {
		if fn != nil {
			s.checks = append(s.checks, fn)
		}
	}
}

// Server HTTP 服务
type Server struct {
	cfg     Config
	gen     Generator
	logger  clog.Logger
	meter   metrics.Meter
	checks  []HealthFunc
	limiter *idLimiter
	limited metrics.Counter

	engine *gin.Engine
	http   *http.Server
}

// New 创建服务并注册路由
func New(cfg *Config, gen Generator, opts ...Option) (*Server, error) {
	if gen == nil {
		return nil, xerrors.Invalidf("server: generator is nil")
	}
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    c,
		gen:    gen,
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	httpMetrics, err := metrics.NewHTTPServerMetrics(s.meter, c.ServiceName)
	if err != nil {
		return nil, err
	}
	if s.limited, err = s.meter.Counter(MetricIDsRateLimited, "Total number of ids rejected by the rate limiter"); err != nil {
		return nil, xerrors.Wrap(err, "create rate limited counter")
	}
	s.limiter = newIDLimiter(c.RateLimit, s.logger)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		recovery(s.logger),
		requestID(),
		trace.GinMiddleware(c.ServiceName),
		metrics.GinHTTPMiddleware(httpMetrics, routeHealthz),
		accessLog(s.logger),
	)
	s.routes(engine)
	s.engine = engine

	s.http = &http.Server{
		Addr:              c.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(r *gin.Engine) {
	r.GET(routeHealthz, s.healthz)

	api := r.Group("/api/v1/snowflake")
	api.GET("/next", s.limitIDs(), s.next)
	api.GET("/next/:count", s.limitIDs(), s.next)
	api.GET("/parse/:id", s.parse)
}

// Handler 返回 HTTP 处理器
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 监听并服务，直到 ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return xerrors.Wrapf(err, "listen %s", s.http.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve 在 ln 上服务，直到 ctx 取消后优雅关闭
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", clog.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !xerrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.limiter.Close()
		return xerrors.Wrap(err, "http serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown 停止接收新请求并等待进行中的请求完成
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Close()
	s.logger.Info("http server shutting down")
	if err := s.http.Shutdown(ctx); err != nil {
		return xerrors.Wrap(err, "http shutdown")
	}
	return nil
}
