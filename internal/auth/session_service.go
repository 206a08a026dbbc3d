package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/visera/backend/internal/models"
	"github.com/visera/backend/pkg/crypto"
	"github.com/visera/backend/pkg/metrics"
)

const (
	// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	defaultRefreshTokenBytes = 48
	maxSessionUserAgent      = 512
)

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	RefreshTokenTTL time.Duration
	RefreshLength   int
	Clock           func() time.Time
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
	Email     string
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that has been ended by logout, deletion or password change.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that a refresh token has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied refresh token is malformed.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

// SessionService manages creation, rotation, and revocation of user sessions. Refresh tokens
// are stored as SHA-256 digests.
type SessionService struct {
	db         *gorm.DB
	jwt        *JWTService
	refreshTTL time.Duration
	tokenLen   int
	now        func() time.Time
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}

	length := cfg.RefreshLength
	if length <= 0 {
		length = defaultRefreshTokenBytes
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:         db,
		jwt:        jwtService,
		refreshTTL: ttl,
		tokenLen:   length,
		now:        clock,
	}, nil
}

// RefreshTTL reports the lifetime of refresh tokens.
func (s *SessionService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// CreateSession generates a new session and issues a fresh token pair.
func (s *SessionService) CreateSession(ctx context.Context, userID string, meta SessionMetadata) (TokenPair, *models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return TokenPair{}, nil, errors.New("session service: user id is required")
	}

	refreshToken, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	now := s.now()

	session := &models.Session{
		UserID:      userID,
		RefreshHash: crypto.HashToken(refreshToken),
		IPAddress:   strings.TrimSpace(meta.IPAddress),
		UserAgent:   truncate(strings.TrimSpace(meta.UserAgent), maxSessionUserAgent),
		ExpiresAt:   now.Add(s.refreshTTL),
		LastUsedAt:  now,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()

	accessToken, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    userID,
		SessionID: session.ID,
		Email:     meta.Email,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	return s.pair(accessToken, refreshToken), session, nil
}

// RefreshSession rotates the refresh token and issues a new access token. A refresh token can
// be used once; replaying it reports ErrSessionNotFound.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string, email string) (TokenPair, *models.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, nil, ErrSessionInvalidToken
	}

	oldHash := crypto.HashToken(refreshToken)
	session, err := s.findSession(ctx, "refresh_hash = ?", oldHash)
	if err != nil {
		return TokenPair{}, nil, err
	}

	now := s.now()
	if err := checkActive(session, now); err != nil {
		return TokenPair{}, nil, err
	}

	newRefresh, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	expiresAt := now.Add(s.refreshTTL)
	newHash := crypto.HashToken(newRefresh)

	// Matching on the old hash makes concurrent refreshes of the same token race safely.
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND refresh_hash = ? AND revoked_at IS NULL", session.ID, oldHash).
		Updates(map[string]any{
			"refresh_hash": newHash,
			"expires_at":   expiresAt,
			"last_used_at": now,
		})
	if result.Error != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return TokenPair{}, nil, ErrSessionNotFound
	}

	session.RefreshHash = newHash
	session.ExpiresAt = expiresAt
	session.LastUsedAt = now

	accessToken, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    session.UserID,
		SessionID: session.ID,
		Email:     email,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	return s.pair(accessToken, newRefresh), session, nil
}

// LookupRefreshToken returns the session for a refresh token without rotating it.
func (s *SessionService) LookupRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrSessionInvalidToken
	}

	return s.findSession(ctx, "refresh_hash = ?", crypto.HashToken(refreshToken))
}

// ValidateSession ensures the session referenced by an access token is still active.
func (s *SessionService) ValidateSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionInvalidToken
	}

	session, err := s.findSession(ctx, "id = ?", sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkActive(session, s.now()); err != nil {
		return nil, err
	}
	return session, nil
}

// RevokeSession marks a session as revoked, preventing further use of its tokens.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}

	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return nil
}

// RevokeUserSessions revokes every active session belonging to a user except the optional
// keepSessionID.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string, keepSessionID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrSessionInvalidToken
	}

	query := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID)
	if keepSessionID != "" {
		query = query.Where("id <> ?", keepSessionID)
	}

	result := query.Update("revoked_at", s.now())
	if result.Error != nil {
		return 0, fmt.Errorf("session service: revoke user sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// CleanupExpired removes expired and revoked sessions and updates active session metrics.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()

	var activeExpired int64
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("expires_at < ? AND revoked_at IS NULL", now).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("session service: count expired sessions: %w", err)
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Or("revoked_at IS NOT NULL").
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	if activeExpired > 0 {
		metrics.ActiveSessions.Sub(float64(activeExpired))
	}

	return result.RowsAffected, nil
}

func (s *SessionService) pair(access, refresh string) TokenPair {
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessTTL:    s.jwt.AccessTokenTTL(),
		RefreshTTL:   s.refreshTTL,
	}
}

func (s *SessionService) findSession(ctx context.Context, query string, arg any) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Where(query, arg).Take(&session).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrSessionNotFound
	case err != nil:
		return nil, fmt.Errorf("session service: find session: %w", err)
	}
	return &session, nil
}

// checkActive reports why a session can no longer be used, if it cannot.
func checkActive(session *models.Session, now time.Time) error {
	switch {
	case session.Active(now):
		return nil
	case session.RevokedAt != nil:
		return ErrSessionRevoked
	default:
		return ErrSessionExpired
	}
}

// truncate shortens value to at most max bytes without splitting a UTF-8 sequence.
func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
