package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/telemetry"
)

// RequestLogger returns a gin middleware that logs one line per request with
// method, path, status and duration.
func RequestLogger(logger telemetry.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
