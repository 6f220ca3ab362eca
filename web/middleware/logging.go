package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/infigaming-com/cloudpubsub-transport/util"
)

// AccessLog logs one line per request. Paths in skip (probes, mostly) are not
// logged; server errors are logged at warn level, everything else at debug.
func AccessLog(lg *zap.Logger, skip ...string) gin.HandlerFunc {
	if lg == nil {
		lg = zap.L()
	}
	return func(c *gin.Context) {
		if lo.Contains(skip, c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		level := zapcore.DebugLevel
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = zapcore.WarnLevel
		}
		correlationId, _ := util.CorrelationIDFromCtx(c.Request.Context())
		lg.Log(level, "http request",
			zap.String("correlation_id", correlationId),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.Strings("errors", c.Errors.Errors()),
		)
	}
}
