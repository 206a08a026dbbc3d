package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/middleware"
	"github.com/visera/backend/internal/services"
	"github.com/visera/backend/pkg/errors"
	"github.com/visera/backend/pkg/response"
)

// AuthHandler manages authentication flows (login/refresh/logout/me) and email verification.
type AuthHandler struct {
	auth         *services.AuthService
	verification *services.EmailVerificationService
	cookies      *iauth.CookieManager
}

func NewAuthHandler(auth *services.AuthService, verification *services.EmailVerificationService, cookies *iauth.CookieManager) *AuthHandler {
	return &AuthHandler{auth: auth, verification: verification, cookies: cookies}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type verifyOTPRequest struct {
	Code string `json:"code" validate:"required,min=4,max=12,digits"`
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required,notblank"`
}

// tokenResponse is returned by login and refresh. RefreshToken is only echoed to clients
// that sent theirs in the request body; browsers keep it in an httpOnly cookie.
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	User         userResponse `json:"user"`
}

func newTokenResponse(result *services.AuthResult) tokenResponse {
	return tokenResponse{
		AccessToken: result.Tokens.AccessToken,
		TokenType:   "bearer",
		User:        toUserResponse(result.User),
	}
}

// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.auth.Login(requestContext(c), req.Email, req.Password, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.cookies.SetSession(c.Writer, result.Tokens)
	response.Success(c, http.StatusOK, newTokenResponse(result))
}

// POST /auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	token := h.cookies.RefreshToken(c.Request)
	fromBody := false
	if token == "" {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
			response.Error(c, errors.NewValidation("Invalid JSON payload"))
			return
		}
		token = strings.TrimSpace(req.RefreshToken)
		fromBody = token != ""
	}

	result, err := h.auth.Refresh(requestContext(c), token, requestMeta(c))
	if err != nil {
		h.cookies.Clear(c.Writer)
		response.Error(c, err)
		return
	}

	h.cookies.SetSession(c.Writer, result.Tokens)
	payload := newTokenResponse(result)
	if fromBody {
		payload.RefreshToken = result.Tokens.RefreshToken
	}
	response.Success(c, http.StatusOK, payload)
}

// POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var sessionID string
	if claims, ok := middleware.CurrentClaims(c); ok {
		sessionID = claims.SessionID
	}

	if err := h.auth.Logout(requestContext(c), sessionID, h.cookies.RefreshToken(c.Request), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	h.cookies.Clear(c.Writer)
	response.NoContent(c)
}

// GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, errors.ErrNotAuthenticated)
		return
	}
	response.Success(c, http.StatusOK, toUserResponse(user))
}

// POST /auth/verify-otp
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, errors.ErrNotAuthenticated)
		return
	}

	var req verifyOTPRequest
	if !bindAndValidate(c, &req) {
		return
	}

	verified, err := h.verification.VerifyOTP(requestContext(c), user.ID, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, toUserResponse(verified))
}

// POST /auth/resend-otp
func (h *AuthHandler) ResendOTP(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, errors.ErrNotAuthenticated)
		return
	}

	if err := h.verification.Resend(requestContext(c), user); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"detail": "Verification code sent"})
}

// POST /auth/verify-email
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	verified, err := h.verification.VerifyLink(requestContext(c), req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, toUserResponse(verified))
}
