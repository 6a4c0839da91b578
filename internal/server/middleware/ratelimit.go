package middleware

import (
	"context"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sessionauth/internal/ratelimit"
)

// Limiter is satisfied by *ratelimit.Limiter.
type Limiter interface {
	Allow(ctx context.Context, rule ratelimit.Rule, key string) (bool, time.Duration, error)
}

// RateLimit limits requests per client IP under rule. A nil limiter disables it.
// Limiter errors are logged and the request is let through.
func RateLimit(limiter Limiter, rule ratelimit.Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := c.ClientIP()
		ok, retryAfter, err := limiter.Allow(c.Request.Context(), rule, key)
		if err != nil {
			log.Printf("ratelimit: check failed rule=%s: %v", rule.Name, err)
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			AbortWithError(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		c.Next()
	}
}
