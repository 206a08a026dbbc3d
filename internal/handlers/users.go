package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/middleware"
	"github.com/visera/backend/internal/services"
	"github.com/visera/backend/pkg/errors"
	"github.com/visera/backend/pkg/response"
)

// UserHandler serves account registration and the self-service account endpoints.
type UserHandler struct {
	auth    *services.AuthService
	cookies *iauth.CookieManager
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

func NewUserHandler(auth *services.AuthService, cookies *iauth.CookieManager) *UserHandler {
	return &UserHandler{auth: auth, cookies: cookies}
}

// POST /users
func (h *UserHandler) Create(c *gin.Context) {
	var body createUserRequest
	if !bindAndValidate(c, &body) {
		return
	}

	result, err := h.auth.Register(requestContext(c), body.Email, body.Password, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.cookies.SetSession(c.Writer, result.Tokens)
	response.Success(c, http.StatusCreated, toUserResponse(result.User))
}

// DELETE /users/me
func (h *UserHandler) DeleteMe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, errors.ErrNotAuthenticated)
		return
	}

	if err := h.auth.DeleteAccount(requestContext(c), user.ID); err != nil {
		response.Error(c, err)
		return
	}

	h.cookies.Clear(c.Writer)
	response.NoContent(c)
}

// POST /users/me/password
func (h *UserHandler) ChangePassword(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, errors.ErrNotAuthenticated)
		return
	}

	var body changePasswordRequest
	if !bindAndValidate(c, &body) {
		return
	}

	var sessionID string
	if claims, ok := middleware.CurrentClaims(c); ok {
		sessionID = claims.SessionID
	}

	if err := h.auth.ChangePassword(requestContext(c), user.ID, sessionID, body.CurrentPassword, body.NewPassword); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
