package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/visera/backend/internal/database"
	"github.com/visera/backend/pkg/logger"
	"github.com/visera/backend/pkg/response"
)

const healthCheckTimeout = 3 * time.Second

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Error    string `json:"error,omitempty"`
}

// Root answers GET / so load balancers and humans can see the API is up.
func Root() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, http.StatusOK, response.Message{Message: "Visera API is running"})
	}
}

// Health pings the database. The endpoint always answers 200 and reports a degraded
// database in the payload.
func Health(db *gorm.DB) gin.HandlerFunc {
	log := logger.WithModule("health")
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(requestContext(c), healthCheckTimeout)
		defer cancel()

		if err := database.Ping(ctx, db); err != nil {
			log.Warn("database health check failed", zap.Error(err))
			response.Success(c, http.StatusOK, healthResponse{
				Status:   "unhealthy",
				Database: "disconnected",
				Error:    err.Error(),
			})
			return
		}

		response.Success(c, http.StatusOK, healthResponse{Status: "healthy", Database: "connected"})
	}
}
