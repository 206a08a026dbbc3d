package app

import (
	"strconv"
	"strings"
	"time"

	"github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/services"
)

const defaultRefreshLength = 48

// AccessTokenTTL converts the configured minutes into a duration.
func (c AuthConfig) AccessTokenTTL() time.Duration {
	if c.JWT.ExpireMinutes <= 0 {
		return auth.DefaultAccessTokenTTL
	}
	return time.Duration(c.JWT.ExpireMinutes) * time.Minute
}

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	verificationTTL := c.JWT.EmailVerificationTTL
	if verificationTTL <= 0 {
		verificationTTL = auth.DefaultEmailVerificationTTL
	}

	return auth.JWTConfig{
		Secret:               c.JWT.Secret,
		Issuer:               c.JWT.Issuer,
		AccessTokenTTL:       c.AccessTokenTTL(),
		EmailVerificationTTL: verificationTTL,
	}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	ttl := c.Session.RefreshTTL
	if ttl <= 0 {
		ttl = auth.DefaultRefreshTokenTTL
	}

	length := c.Session.RefreshLength
	if length <= 0 {
		length = defaultRefreshLength
	}

	return auth.SessionConfig{
		RefreshTokenTTL: ttl,
		RefreshLength:   length,
	}
}

// CookieConfig converts the cookie settings. Secure cookies default to on in production.
func (c AuthConfig) CookieConfig(production bool) auth.CookieConfig {
	return auth.CookieConfig{
		AccessName:  strings.TrimSpace(c.Cookie.Name),
		RefreshName: strings.TrimSpace(c.Cookie.RefreshName),
		MaxAge:      time.Duration(c.Cookie.MaxAge) * time.Second,
		Domain:      strings.TrimSpace(c.Cookie.Domain),
		Secure:      resolveSecure(c.Cookie.Secure, production),
		SameSite:    auth.ParseSameSite(c.Cookie.SameSite),
	}
}

// OTPServiceConfig converts the OTP settings for the OTP service.
func (c AuthConfig) OTPServiceConfig() services.OTPConfig {
	return services.OTPConfig{
		Length:         c.OTP.Length,
		TTL:            c.OTP.TTL,
		MaxAttempts:    c.OTP.MaxAttempts,
		ResendCooldown: c.OTP.ResendCooldown,
	}
}

func resolveSecure(value string, production bool) bool {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "auto") {
		return production
	}
	secure, err := strconv.ParseBool(value)
	if err != nil {
		return production
	}
	return secure
}
