package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/andyc1997/kyc-agent/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Recovery turns a panic anywhere in the handler chain into a 500. The
// panic is logged with the request's logger context, so a stage run that
// blows up is traceable to its case.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					"error", err,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "Internal server error",
					"request_id": GetRequestID(c),
				})
			}
		}()

		c.Next()
	}
}
