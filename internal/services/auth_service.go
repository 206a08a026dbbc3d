package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/models"
	"github.com/visera/backend/pkg/crypto"
	apperrors "github.com/visera/backend/pkg/errors"
	"github.com/visera/backend/pkg/logger"
	"github.com/visera/backend/pkg/metrics"
)

// dummyPasswordHash is compared against when the email is unknown so failed logins take the
// same time whether or not the account exists.
var dummyPasswordHash, _ = crypto.HashPassword("visera-timing-equaliser")

// AuthResult is the outcome of a successful sign-in, sign-up or refresh.
type AuthResult struct {
	User    *models.User
	Session *models.Session
	Tokens  auth.TokenPair
}

// AuthService orchestrates sign-up, login, token refresh, logout and the account operations
// that have to touch sessions.
type AuthService struct {
	users        *UserService
	sessions     *auth.SessionService
	verification *EmailVerificationService
	audit        *AuditService
	log          *zap.Logger
}

// NewAuthService wires the authentication flows. verification may be nil when email delivery
// is not configured.
func NewAuthService(users *UserService, sessions *auth.SessionService, verification *EmailVerificationService, audit *AuditService) (*AuthService, error) {
	if users == nil {
		return nil, errors.New("auth service: user service is required")
	}
	if sessions == nil {
		return nil, errors.New("auth service: session service is required")
	}
	return &AuthService{
		users:        users,
		sessions:     sessions,
		verification: verification,
		audit:        audit,
		log:          logger.WithModule("auth"),
	}, nil
}

// Register creates an account, opens its first session and sends the verification email.
// Email delivery failures are logged and do not fail the registration.
func (s *AuthService) Register(ctx context.Context, email, password string, meta RequestMeta) (*AuthResult, error) {
	ctx = ensureContext(ctx)

	user, err := s.users.Create(ctx, email, password)
	if err != nil {
		if errors.Is(err, apperrors.ErrEmailTaken) {
			metrics.Signups.WithLabelValues("conflict").Inc()
		} else {
			metrics.Signups.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.Signups.WithLabelValues("success").Inc()

	if s.verification != nil {
		if _, err := s.verification.SendVerification(ctx, user.ID); err != nil {
			s.log.Warn("verification email not sent after signup",
				zap.String("user_id", user.ID),
				zap.Error(err),
			)
		}
	}

	tokens, session, err := s.sessions.CreateSession(ctx, user.ID, sessionMeta(user, meta))
	if err != nil {
		return nil, err
	}

	return &AuthResult{User: user, Session: session, Tokens: tokens}, nil
}

// Login checks the credentials and opens a new session. Unknown emails, deleted accounts and
// wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string, meta RequestMeta) (*AuthResult, error) {
	ctx = ensureContext(ctx)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if user == nil {
		crypto.VerifyPassword(dummyPasswordHash, password)
		s.loginFailed(ctx, nil, email, meta, "unknown_email")
		return nil, apperrors.ErrInvalidCredentials
	}
	if !crypto.VerifyPassword(user.Password, password) {
		s.loginFailed(ctx, &user.ID, user.Email, meta, "invalid_password")
		return nil, apperrors.ErrInvalidCredentials
	}

	tokens, session, err := s.sessions.CreateSession(ctx, user.ID, sessionMeta(user, meta))
	if err != nil {
		return nil, err
	}

	if err := s.users.TouchLastLogin(ctx, user); err != nil {
		s.log.Warn("failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    &user.ID,
		Email:     user.Email,
		Action:    AuditActionLogin,
		Resource:  "auth",
		Result:    auditResultSuccess,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"session_id": session.ID},
	})

	return &AuthResult{User: user, Session: session, Tokens: tokens}, nil
}

// Refresh rotates a refresh token. The previous refresh token stops working.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*AuthResult, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(refreshToken) == "" {
		return nil, apperrors.ErrNotAuthenticated
	}

	current, err := s.sessions.LookupRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, sessionError(err)
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if errors.Is(err, ErrUserNotFound) {
		_ = s.sessions.RevokeSession(ctx, current.ID)
		return nil, apperrors.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	tokens, session, err := s.sessions.RefreshSession(ctx, refreshToken, user.Email)
	if err != nil {
		return nil, sessionError(err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    &user.ID,
		Email:     user.Email,
		Action:    AuditActionRefresh,
		Resource:  "auth",
		Result:    auditResultSuccess,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"session_id": session.ID},
	})

	return &AuthResult{User: user, Session: session, Tokens: tokens}, nil
}

// Logout revokes the session identified by sessionID, or failing that by the refresh token.
// Logging out of an unknown or already revoked session is not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID, refreshToken string, meta RequestMeta) error {
	ctx = ensureContext(ctx)

	if sessionID == "" && strings.TrimSpace(refreshToken) != "" {
		session, err := s.sessions.LookupRefreshToken(ctx, refreshToken)
		switch {
		case err == nil:
			sessionID = session.ID
		case isSessionStateError(err):
		default:
			return err
		}
	}
	if sessionID == "" {
		return nil
	}

	var userID string
	if session, err := s.sessions.ValidateSession(ctx, sessionID); err == nil {
		userID = session.UserID
	}

	if err := s.sessions.RevokeSession(ctx, sessionID); err != nil && !isSessionStateError(err) {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    stringPtr(userID),
		Action:    AuditActionLogout,
		Resource:  "auth",
		Result:    auditResultSuccess,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"session_id": sessionID},
	})
	return nil
}

// ChangePassword updates the password and revokes every other session of the user.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentSessionID, currentPassword, newPassword string) error {
	ctx = ensureContext(ctx)

	if err := s.users.ChangePassword(ctx, userID, currentPassword, newPassword); err != nil {
		return err
	}

	revoked, err := s.sessions.RevokeUserSessions(ctx, userID, currentSessionID)
	if err != nil {
		return fmt.Errorf("auth service: revoke sessions: %w", err)
	}
	if revoked > 0 {
		s.log.Info("revoked sessions after password change",
			zap.String("user_id", userID),
			zap.Int64("sessions", revoked),
		)
	}
	return nil
}

// DeleteAccount soft deletes the user and revokes all of its sessions.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)

	if _, err := s.users.SoftDelete(ctx, userID); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeUserSessions(ctx, userID, ""); err != nil {
		return fmt.Errorf("auth service: revoke sessions: %w", err)
	}
	return nil
}

func (s *AuthService) loginFailed(ctx context.Context, userID *string, email string, meta RequestMeta, reason string) {
	metrics.AuthAttempts.WithLabelValues("failure").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    userID,
		Email:     email,
		Action:    AuditActionLogin,
		Resource:  "auth",
		Result:    auditResultFailure,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"reason": reason},
	})
}

func sessionMeta(user *models.User, meta RequestMeta) auth.SessionMetadata {
	return auth.SessionMetadata{
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Email:     user.Email,
	}
}

func isSessionStateError(err error) bool {
	return errors.Is(err, auth.ErrSessionNotFound) ||
		errors.Is(err, auth.ErrSessionRevoked) ||
		errors.Is(err, auth.ErrSessionExpired) ||
		errors.Is(err, auth.ErrSessionInvalidToken)
}

// sessionError maps session lookup failures onto the 401 responses clients see.
func sessionError(err error) error {
	switch {
	case errors.Is(err, auth.ErrSessionRevoked):
		return apperrors.ErrSessionRevoked
	case isSessionStateError(err):
		return apperrors.ErrInvalidToken
	default:
		return err
	}
}
