package trace

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// 业务 Span 属性
const (
	AttrIDCount  = "idgen.count"
	AttrNodeID   = "idgen.node_id"
	AttrSlotName = "idgen.slot"
	AttrLeaseID  = "coord.lease_id"
)

// GinMiddleware 为每个请求创建服务端 Span 并从请求头提取上游上下文
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}
