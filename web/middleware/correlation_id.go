package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/infigaming-com/cloudpubsub-transport/util"
)

const CorrelationIdKey string = "X-CORRELATION-ID"

// CorrelationIdMiddleware reuses an incoming X-CORRELATION-ID when it is a
// UUID and mints a new one otherwise.
func CorrelationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.GetHeader(CorrelationIdKey)
		if !util.IsUUID(correlationId) {
			correlationId = util.NewUUID()
		}
		c.Header(CorrelationIdKey, correlationId)
		ctx := util.CorrelationIDToCtx(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
