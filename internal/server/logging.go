package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"soulseer/internal/auth"
	"soulseer/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestLoggingMiddleware logs HTTP requests with structured logging and
// tags each one with a request id, reusing the caller's if it sent one.
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		fields := []interface{}{
			"request_id", reqID,
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if userID, ok := auth.GetUserID(c); ok {
			fields = append(fields, "user_id", userID)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		logger.Info("HTTP request", fields...)
	}
}
