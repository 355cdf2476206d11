package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/tokengate/internal/metrics"
	"github.com/osvaldoandrade/tokengate/internal/ratelimit"
)

// RateLimitKeyRefresh guards forced key set refreshes.
func RateLimitKeyRefresh(lim ratelimit.Limiter, bucket ratelimit.Bucket) gin.HandlerFunc {
	return rateLimitClient(lim, ratelimit.ScopeKeyRefresh, bucket)
}

func RateLimitAuthorize(lim ratelimit.Limiter, bucket ratelimit.Bucket) gin.HandlerFunc {
	return rateLimitClient(lim, ratelimit.ScopeAuthorize, bucket)
}

// rateLimitClient buckets by client IP. Request headers such as Authorization
// are chosen by the caller and never select the bucket.
func rateLimitClient(lim ratelimit.Limiter, scope ratelimit.Scope, bucket ratelimit.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		dec, err := lim.Allow(c.Request.Context(), scope.Name, c.ClientIP(), bucket)
		if err != nil {
			// Fail open: a Redis outage must not block requests.
			Logger(c).Warn("rate limit check failed", "scope", scope.Name, "op", scope.Operation, "err", err)
			c.Next()
			return
		}
		if dec.Allowed {
			c.Next()
			return
		}

		retryAfterSeconds := int(dec.RetryAfter.Seconds())
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(scope.Name, scope.Operation).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate limit exceeded",
			"scope":             scope.Name,
			"operation":         scope.Operation,
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}
