package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/visera/backend/internal/models"
	"github.com/visera/backend/internal/services"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

func requestMeta(c *gin.Context) services.RequestMeta {
	if c == nil || c.Request == nil {
		return services.RequestMeta{}
	}
	return services.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// userResponse is the public representation of an account. The password hash never leaves
// the service layer.
type userResponse struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	IsEmailVerified bool      `json:"is_email_verified"`
	CreatedAt       time.Time `json:"created_at"`
}

func toUserResponse(user *models.User) userResponse {
	if user == nil {
		return userResponse{}
	}
	return userResponse{
		ID:              user.ID,
		Email:           user.Email,
		IsEmailVerified: user.IsEmailVerified,
		CreatedAt:       user.CreatedAt.UTC(),
	}
}
