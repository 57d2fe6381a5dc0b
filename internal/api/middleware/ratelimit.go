package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"preptracker/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Limiter 判断 id 对应的客户端是否可以继续。
type Limiter interface {
	Allow(ctx context.Context, id string) (bool, time.Duration, error)
}

// RateLimitByIP 对超出单 IP 配额的请求返回 429 并带 Retry-After。
// 限流器出错时记录日志并放行。
func RateLimitByIP(limiter Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		allowed, retryAfter, err := limiter.Allow(ctx, c.ClientIP())
		cancel()
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable, allowing request",
					slog.String("path", c.FullPath()),
					slog.String("error", err.Error()),
				)
			}
			c.Next()
			return
		}
		if !allowed {
			metrics.RateLimitRejectedTotal.WithLabelValues(c.FullPath()).Inc()
			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
