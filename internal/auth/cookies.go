package auth

import (
	"net/http"
	"strings"
	"time"
)

const (
	DefaultAccessCookieName  = "access_token"
	DefaultRefreshCookieName = "refresh_token"
	// RefreshCookiePath limits the refresh cookie to the token endpoints.
	RefreshCookiePath = "/auth"
)

// CookieConfig controls how session cookies are written.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	// MaxAge overrides the access cookie lifetime; zero uses the access token TTL.
	MaxAge   time.Duration
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// CookieManager writes, reads and clears the httpOnly session cookies.
type CookieManager struct {
	cfg CookieConfig
}

// NewCookieManager applies defaults to cfg. SameSite=None always implies Secure, which
// browsers require.
func NewCookieManager(cfg CookieConfig) *CookieManager {
	if strings.TrimSpace(cfg.AccessName) == "" {
		cfg.AccessName = DefaultAccessCookieName
	}
	if strings.TrimSpace(cfg.RefreshName) == "" {
		cfg.RefreshName = DefaultRefreshCookieName
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	if cfg.SameSite == http.SameSiteNoneMode {
		cfg.Secure = true
	}
	return &CookieManager{cfg: cfg}
}

// AccessName returns the name of the access token cookie.
func (m *CookieManager) AccessName() string {
	return m.cfg.AccessName
}

// SetSession writes both session cookies for pair.
func (m *CookieManager) SetSession(w http.ResponseWriter, pair TokenPair) {
	accessAge := m.cfg.MaxAge
	if accessAge <= 0 {
		accessAge = pair.AccessTTL
	}

	http.SetCookie(w, m.cookie(m.cfg.AccessName, pair.AccessToken, "/", accessAge))
	if pair.RefreshToken != "" {
		http.SetCookie(w, m.cookie(m.cfg.RefreshName, pair.RefreshToken, RefreshCookiePath, pair.RefreshTTL))
	}
}

// Clear expires both session cookies.
func (m *CookieManager) Clear(w http.ResponseWriter) {
	access := m.cookie(m.cfg.AccessName, "", "/", 0)
	access.MaxAge = -1
	access.Expires = time.Unix(0, 0)
	http.SetCookie(w, access)

	refresh := m.cookie(m.cfg.RefreshName, "", RefreshCookiePath, 0)
	refresh.MaxAge = -1
	refresh.Expires = time.Unix(0, 0)
	http.SetCookie(w, refresh)
}

// AccessToken returns the access token cookie value, if any.
func (m *CookieManager) AccessToken(r *http.Request) string {
	return readCookie(r, m.cfg.AccessName)
}

// RefreshToken returns the refresh token cookie value, if any.
func (m *CookieManager) RefreshToken(r *http.Request) string {
	return readCookie(r, m.cfg.RefreshName)
}

func (m *CookieManager) cookie(name, value, path string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   m.cfg.Domain,
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: m.cfg.SameSite,
	}
}

func readCookie(r *http.Request, name string) string {
	if r == nil {
		return ""
	}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// ParseSameSite maps a configuration value onto http.SameSite, defaulting to Lax.
func ParseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
