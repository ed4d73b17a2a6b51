package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/logger"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/ratelimit"
)

// RateLimit 클라이언트 IP 기준 요청 제한. 리미터 오류 시 요청을 허용한다.
func RateLimit(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("Rate limiter unavailable", "key", key, "error", err)
			c.Next()
			return
		}

		if !allowed {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":     "Rate limit exceeded",
				"timestamp": time.Now().UTC(),
			})
			return
		}

		c.Next()
	}
}
