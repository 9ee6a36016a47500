package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/metrics"
)

// HeaderRequestID 请求 ID 头
const HeaderRequestID = "X-Request-ID"

func recovery(logger clog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "panic recovered",
			clog.Any("panic", recovered),
			clog.String("path", c.Request.URL.Path),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	})
}

// requestID 沿用上游传入的请求 ID，没有时生成一个，写入响应头和 Context
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(clog.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func accessLog(logger clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []clog.Field{
			clog.String("method", c.Request.Method),
			clog.String("path", c.Request.URL.Path),
			clog.Int("status", status),
			clog.Duration("latency", time.Since(start)),
			clog.String("client_ip", c.ClientIP()),
		}
		if status >= http.StatusInternalServerError {
			logger.WarnContext(c.Request.Context(), "request failed", fields...)
			return
		}
		logger.DebugContext(c.Request.Context(), "request served", fields...)
	}
}

// limitIDs 按请求的 ID 数扣减令牌，count 非法时交给 handler 返回 400
func (s *Server) limitIDs() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		n := 1
		if raw := c.Param("count"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 || v > s.cfg.MaxBatch {
				c.Next()
				return
			}
			n = v
		}

		if !s.limiter.AllowN(c.ClientIP(), n) {
			s.limited.Add(c.Request.Context(), float64(n), metrics.L(metrics.LabelRoute, c.FullPath()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
