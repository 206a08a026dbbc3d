package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL defines the fallback validity period for access tokens.
const DefaultAccessTokenTTL = 30 * time.Minute

// DefaultEmailVerificationTTL is how long an emailed verification link stays valid.
const DefaultEmailVerificationTTL = 24 * time.Hour

// Token purposes carried in the "type" claim.
const (
	TokenTypeAccess            = "access"
	TokenTypeEmailVerification = "email_verification"
)

var (
	// ErrTokenInvalid covers malformed, expired and badly signed tokens.
	ErrTokenInvalid = errors.New("jwt: invalid or expired token")
	// ErrTokenPayload marks a well formed token whose claims are unusable for the request.
	ErrTokenPayload = errors.New("jwt: invalid token payload")
)

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret               string
	Issuer               string
	AccessTokenTTL       time.Duration
	EmailVerificationTTL time.Duration
	Clock                func() time.Time
}

// Claims represents the custom claims embedded in issued JWTs.
type Claims struct {
	UserID    string `json:"uid,omitempty"`
	SessionID string `json:"sid,omitempty"`
	Email     string `json:"email,omitempty"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

// AccessTokenInput holds the parameters used when generating a new access token.
type AccessTokenInput struct {
	UserID    string
	SessionID string
	Email     string
}

// JWTService is responsible for issuing and validating JSON Web Tokens.
type JWTService struct {
	secret    []byte
	issuer    string
	ttl       time.Duration
	verifyTTL time.Duration
	now       func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	verifyTTL := cfg.EmailVerificationTTL
	if verifyTTL <= 0 {
		verifyTTL = DefaultEmailVerificationTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		ttl:       ttl,
		verifyTTL: verifyTTL,
		now:       now,
	}, nil
}

// AccessTokenTTL reports the lifetime of issued access tokens.
func (s *JWTService) AccessTokenTTL() time.Duration {
	return s.ttl
}

// GenerateAccessToken issues a signed access token bound to a session.
func (s *JWTService) GenerateAccessToken(input AccessTokenInput) (string, error) {
	if input.UserID == "" {
		return "", errors.New("jwt: user id is required")
	}

	claims := s.newClaims(input.UserID, TokenTypeAccess, s.ttl)
	claims.UserID = input.UserID
	claims.SessionID = input.SessionID
	claims.Email = input.Email
	if input.SessionID != "" {
		claims.ID = input.SessionID
	}

	return s.sign(claims)
}

// ValidateAccessToken parses and validates an access token.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.UserID != claims.Subject {
		return nil, ErrTokenPayload
	}
	return claims, nil
}

// GenerateEmailVerificationToken issues the token embedded in verification links.
func (s *JWTService) GenerateEmailVerificationToken(userID, email string) (string, error) {
	if userID == "" || email == "" {
		return "", errors.New("jwt: user id and email are required")
	}

	claims := s.newClaims(userID, TokenTypeEmailVerification, s.verifyTTL)
	claims.Email = email
	return s.sign(claims)
}

// ValidateEmailVerificationToken parses a verification link token.
func (s *JWTService) ValidateEmailVerificationToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, TokenTypeEmailVerification)
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, ErrTokenPayload
	}
	return claims, nil
}

func (s *JWTService) newClaims(subject, tokenType string, ttl time.Duration) *Claims {
	now := s.now()
	return &Claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
}

func (s *JWTService) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// parse verifies signature, algorithm, lifetime, issuer and purpose. Failures of the token
// itself wrap ErrTokenInvalid; unusable claims return ErrTokenPayload.
func (s *JWTService) parse(tokenString, tokenType string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parser := jwt.NewParser(opts...)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if claims.Type != tokenType || claims.Subject == "" {
		return nil, ErrTokenPayload
	}

	return &claims, nil
}
