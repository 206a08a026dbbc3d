package api

import (
	"github.com/gin-gonic/gin"

	"github.com/visera/backend/internal/handlers"
	"github.com/visera/backend/internal/middleware"
)

type authRouteDeps struct {
	Handler       *handlers.AuthHandler
	Authenticator *middleware.Authenticator
	Limits        rateLimits
}

func registerAuthRoutes(engine *gin.Engine, deps authRouteDeps) {
	requireAuth := middleware.Auth(deps.Authenticator)

	auth := engine.Group("/auth")
	{
		auth.POST("/login", deps.Limits.authLimited(deps.Handler.Login)...)
		auth.POST("/refresh", deps.Handler.Refresh)
		auth.POST("/logout", middleware.OptionalAuth(deps.Authenticator), deps.Handler.Logout)
		auth.POST("/verify-email", deps.Limits.authLimited(deps.Handler.VerifyEmail)...)

		auth.GET("/me", requireAuth, deps.Handler.Me)
		auth.POST("/verify-otp", deps.Limits.authLimited(requireAuth, deps.Handler.VerifyOTP)...)
		auth.POST("/resend-otp", deps.Limits.authLimited(requireAuth, deps.Handler.ResendOTP)...)
	}
}
