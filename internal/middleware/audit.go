package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Audit records an audit line for each successful request on a membership
// mutating route.
func Audit(logger *zap.Logger, action string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	audit := logger.Named("audit")
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		fields := []zap.Field{
			zap.String("action", action),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.GetHeader("User-Agent")),
		}
		if p := PrincipalFromContext(c); p != nil {
			fields = append(fields, zap.String("user_id", p.ID))
		}
		if dojoID := c.Param(DojoParam); dojoID != "" {
			fields = append(fields, zap.String("dojo_id", dojoID))
		}
		if requestID := c.Param("requestID"); requestID != "" {
			fields = append(fields, zap.String("join_request_id", requestID))
		}
		audit.Info("membership change", fields...)
	}
}
