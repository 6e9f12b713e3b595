package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/metrics"
	"github.com/trigg3rX/taskmarket/pkg/logging"
)

// LoggingMiddleware logs each request and records HTTP metrics.
func LoggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method

		c.Next()

		// route template, so task ids don't explode label cardinality
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		duration := time.Since(start)
		status := c.Writer.Status()

		metrics.HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())

		logger.Debug("HTTP Request",
			"method", method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"ip", c.ClientIP(),
		)
	}
}
