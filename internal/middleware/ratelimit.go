package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/visera/backend/pkg/errors"
	"github.com/visera/backend/pkg/logger"
	"github.com/visera/backend/pkg/metrics"
	"github.com/visera/backend/pkg/response"
)

// RateLimit limits requests per (client IP, route) to maxRequests within a fixed window.
// Store failures let the request through.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return ScopedRateLimit("", store, maxRequests, window)
}

// ScopedRateLimit is RateLimit with its own counters, so a stricter limit can be stacked on
// routes that already pass through the global one.
func ScopedRateLimit(scope string, store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	prefix := "ratelimit:"
	label := "global"
	if scope != "" {
		prefix += scope + ":"
		label = scope
	}
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := prefix + c.ClientIP() + "|" + route

		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			logger.WithModule("ratelimit").Warn("rate limit store unavailable", zap.Error(err))
			c.Next()
			return
		}

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		resetIn := int(math.Ceil(ttl.Seconds()))

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(resetIn))

		if count > maxRequests {
			c.Header("Retry-After", strconv.Itoa(resetIn))
			metrics.RateLimited.WithLabelValues(label).Inc()
			response.Abort(c, apperrors.ErrRateLimit)
			return
		}

		c.Next()
	}
}
