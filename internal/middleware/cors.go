package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/visera/backend/pkg/logger"
)

// CORSConfig lists the browser origins allowed to call the API with credentials.
type CORSConfig struct {
	AllowedOrigins []string
	// AllowedOriginPattern is a regular expression matched against the whole origin.
	AllowedOriginPattern string
}

// CORS allows credentialed cross-origin requests from the configured origins.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			origins[origin] = struct{}{}
		}
	}

	var pattern *regexp.Regexp
	if expr := strings.TrimSpace(cfg.AllowedOriginPattern); expr != "" {
		compiled, err := regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			logger.WithModule("http").Warn("ignoring invalid CORS origin pattern",
				zap.String("pattern", expr),
				zap.Error(err),
			)
		} else {
			pattern = compiled
		}
	}

	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if _, ok := origins[origin]; ok {
				return true
			}
			return pattern != nil && pattern.MatchString(origin)
		},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			"Origin",
			"Accept",
			"Content-Type",
			"Authorization",
			"X-Requested-With",
			CSRFHeaderName,
		},
		ExposeHeaders:    []string{CSRFHeaderName, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
