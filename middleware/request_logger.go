package middleware

import (
	"time"

	"github.com/andyc1997/kyc-agent/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// RequestLogger writes one access log line per request. The line carries
// whatever the logger context accumulated along the chain: the request ID,
// the case client key on case routes, and the username once authenticated.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if query != "" {
			attrs = append(attrs, "query", query)
		}

		// AuthMiddleware re-roots c.Request's context, so read it after
		// the chain finished rather than at entry.
		log := logger.WithContext(c.Request.Context())

		switch {
		case status >= 500:
			log.Error("request completed", attrs...)
		case status >= 400:
			log.Warn("request completed", attrs...)
		default:
			log.Info("request completed", attrs...)
		}
	}
}
