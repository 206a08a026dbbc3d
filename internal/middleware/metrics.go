package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/visera/backend/pkg/metrics"
)

const unmatchedRoute = "unmatched"

// Metrics observes request latency per route template and tracks in-flight requests. Paths
// without a registered route share one label to keep series bounded.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPInFlight.Inc()
		defer metrics.HTTPInFlight.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}

		metrics.APILatency.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
