package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestID 요청마다 ID 부여 (클라이언트가 보낸 값이 있으면 유지)
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Logger HTTP 요청 로깅 미들웨어
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		kv := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"status", status,
			"latency", time.Since(start),
			"ip", c.ClientIP(),
			"requestId", c.GetString("requestId"),
		}

		switch {
		case status >= 500:
			logger.Error("HTTP Request", kv...)
		case status >= 400:
			logger.Warn("HTTP Request", kv...)
		default:
			logger.Info("HTTP Request", kv...)
		}
	}
}
