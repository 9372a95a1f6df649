package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Middleware returns a Gin handler that admits or denies requests per
// caller IP and route. Denials carry a Retry-After header (seconds, rounded
// up) so clients can back off precisely.
func Middleware(l *Limiter, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + ":" + c.FullPath()

		d, err := l.Admit(c.Request.Context(), key)
		if err != nil {
			// Admission control must not take the service down with it.
			log.Error("rate limit check failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if !d.Allowed {
			retryAfterSec := int64(math.Ceil(d.RetryAfter.Seconds()))
			if retryAfterSec < 1 {
				retryAfterSec = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfterSec, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":        "rate limit exceeded",
				"retryAfterMs": d.RetryAfter.Milliseconds(),
			})
			return
		}
		c.Next()
	}
}
