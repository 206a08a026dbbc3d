package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/visera/backend/internal/handlers"
)

func registerHealthRoutes(r *gin.Engine, db *gorm.DB) {
	r.GET("/", handlers.Root())
	r.GET("/health", handlers.Health(db))
}
