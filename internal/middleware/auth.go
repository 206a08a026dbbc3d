package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/models"
	"github.com/visera/backend/internal/services"
	apperrors "github.com/visera/backend/pkg/errors"
	"github.com/visera/backend/pkg/logger"
	"github.com/visera/backend/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxUserKey      = "authUser"
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
)

// Authenticator resolves the caller of a request from its access token. The token is read
// from the access cookie first and from the Authorization bearer header otherwise.
type Authenticator struct {
	jwt      *iauth.JWTService
	sessions *iauth.SessionService
	users    *services.UserService
	cookies  *iauth.CookieManager
}

// NewAuthenticator builds an Authenticator. cookies may be nil for bearer-only deployments.
func NewAuthenticator(jwt *iauth.JWTService, sessions *iauth.SessionService, users *services.UserService, cookies *iauth.CookieManager) *Authenticator {
	return &Authenticator{
		jwt:      jwt,
		sessions: sessions,
		users:    users,
		cookies:  cookies,
	}
}

// Auth rejects requests without a valid access token bound to an active session of an
// existing user.
func Auth(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.authenticate(c); err != nil {
			response.Abort(c, err)
			return
		}
		c.Next()
	}
}

// OptionalAuth resolves the caller when a usable token is present and lets the request
// through either way.
func OptionalAuth(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.token(c) != "" {
			_ = a.authenticate(c)
		}
		c.Next()
	}
}

// RequireVerified rejects authenticated users whose email is not verified yet. It must run
// after Auth.
func RequireVerified() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			response.Abort(c, apperrors.ErrNotAuthenticated)
			return
		}
		if !user.IsEmailVerified {
			response.Abort(c, apperrors.ErrEmailNotVerified)
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user resolved by Auth.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get(CtxUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok && user != nil
}

// CurrentClaims returns the access token claims resolved by Auth.
func CurrentClaims(c *gin.Context) (*iauth.Claims, bool) {
	value, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*iauth.Claims)
	return claims, ok && claims != nil
}

func (a *Authenticator) authenticate(c *gin.Context) error {
	token := a.token(c)
	if token == "" {
		return apperrors.ErrNotAuthenticated
	}

	claims, err := a.jwt.ValidateAccessToken(token)
	if err != nil {
		if errors.Is(err, iauth.ErrTokenPayload) {
			return apperrors.ErrInvalidTokenPayload
		}
		return apperrors.ErrInvalidToken
	}
	if claims.SessionID == "" {
		return apperrors.ErrInvalidTokenPayload
	}

	ctx := c.Request.Context()
	session, err := a.sessions.ValidateSession(ctx, claims.SessionID)
	switch {
	case err == nil:
	case errors.Is(err, iauth.ErrSessionRevoked):
		return apperrors.ErrSessionRevoked
	case errors.Is(err, iauth.ErrSessionNotFound),
		errors.Is(err, iauth.ErrSessionExpired),
		errors.Is(err, iauth.ErrSessionInvalidToken):
		return apperrors.ErrInvalidToken
	default:
		logger.WithModule("auth").Error("session lookup failed", zap.Error(err))
		return apperrors.ErrInternalServer.WithInternal(err)
	}
	if session.UserID != claims.UserID {
		return apperrors.ErrInvalidTokenPayload
	}

	user, err := a.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, services.ErrUserNotFound) {
		return apperrors.ErrUserNotFound
	}
	if err != nil {
		logger.WithModule("auth").Error("user lookup failed", zap.Error(err))
		return apperrors.ErrInternalServer.WithInternal(err)
	}

	c.Set(CtxClaimsKey, claims)
	c.Set(CtxUserKey, user)
	c.Set(CtxUserIDKey, user.ID)
	c.Set(CtxSessionIDKey, session.ID)
	return nil
}

func (a *Authenticator) token(c *gin.Context) string {
	if a.cookies != nil {
		if token := a.cookies.AccessToken(c.Request); token != "" {
			return token
		}
	}

	authz := c.GetHeader("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[7:])
}
