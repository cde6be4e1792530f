package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smartwords/api/internal/logger"
)

const RequestIDHeader = "X-Request-Id"

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if rid := c.GetHeader(RequestIDHeader); rid != "" && len(rid) <= 255 {
			fields = append(fields, "request_id", rid)
		}
		if id, ok := IdentityFrom(c); ok {
			fields = append(fields, "user_id", id.UserID.String())
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
