package api

import (
	"github.com/gin-gonic/gin"

	"github.com/visera/backend/internal/handlers"
	"github.com/visera/backend/internal/middleware"
)

type userRouteDeps struct {
	Handler       *handlers.UserHandler
	AuditHandler  *handlers.AuditHandler
	Authenticator *middleware.Authenticator
	Limits        rateLimits
}

func registerUserRoutes(engine *gin.Engine, deps userRouteDeps) {
	engine.POST("/users", deps.Limits.authLimited(deps.Handler.Create)...)

	me := engine.Group("/users/me")
	me.Use(middleware.Auth(deps.Authenticator))
	{
		me.DELETE("", deps.Handler.DeleteMe)
		me.POST("/password", middleware.RequireVerified(), deps.Handler.ChangePassword)
		me.GET("/activity", deps.AuditHandler.ListMine)
	}
}
