package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/visera/backend/pkg/crypto"
	apperrors "github.com/visera/backend/pkg/errors"
	"github.com/visera/backend/pkg/logger"
	"github.com/visera/backend/pkg/response"
)

const (
	// CSRFCookieName holds the token the SPA reads and echoes back.
	CSRFCookieName = "visera_csrf"
	// CSRFHeaderName must carry the cookie value on mutating requests.
	CSRFHeaderName = "X-CSRF-Token"

	csrfTokenBytes = 32
	csrfCookieTTL  = 12 * time.Hour
)

// CSRFOption customises the CSRF cookie.
type CSRFOption func(*csrfGuard)

// WithCSRFCookieDomain scopes the CSRF cookie to the session cookie domain.
func WithCSRFCookieDomain(domain string) CSRFOption {
	return func(g *csrfGuard) {
		g.domain = strings.TrimSpace(domain)
	}
}

// WithCSRFSecureCookie marks the cookie Secure even when the request arrived over plain HTTP,
// as happens behind a TLS-terminating proxy that does not set X-Forwarded-Proto.
func WithCSRFSecureCookie(secure bool) CSRFOption {
	return func(g *csrfGuard) {
		g.forceSecure = secure
	}
}

type csrfGuard struct {
	domain      string
	forceSecure bool
	log         *zap.Logger
}

// CSRF protects cookie-authenticated requests with a double-submit token. GET and HEAD
// responses carry the token in a readable cookie and in the X-CSRF-Token header; POST, PUT,
// PATCH and DELETE must send it back in that header. Bearer clients and preflight requests
// skip the check because browsers never attach an Authorization header by themselves.
func CSRF(opts ...CSRFOption) gin.HandlerFunc {
	g := &csrfGuard{log: logger.WithModule("csrf")}
	for _, opt := range opts {
		opt(g)
	}
	return g.handle
}

func (g *csrfGuard) handle(c *gin.Context) {
	req := c.Request
	if req.Method == http.MethodOptions || bearerAuthorization(req) {
		c.Next()
		return
	}

	token, issued, err := g.token(c)
	if err != nil {
		g.log.Error("issue csrf token", zap.Error(err))
		response.Error(c, apperrors.ErrInternalServer)
		c.Abort()
		return
	}

	if !mutatingMethod(req.Method) {
		c.Header(CSRFHeaderName, token)
		c.Next()
		return
	}

	presented := strings.TrimSpace(req.Header.Get(CSRFHeaderName))
	if presented == "" || !crypto.ConstantTimeEqual(token, presented) {
		g.log.Warn("csrf token mismatch",
			zap.String("method", req.Method),
			zap.String("route", c.FullPath()),
			zap.Bool("fresh_cookie", issued),
		)
		response.Error(c, apperrors.ErrCSRFInvalid)
		c.Abort()
		return
	}

	c.Next()
}

// token returns the client's existing CSRF token or mints a new one. The cookie is
// rewritten either way so its lifetime slides with activity.
func (g *csrfGuard) token(c *gin.Context) (string, bool, error) {
	token, _ := c.Cookie(CSRFCookieName)
	issued := false
	if token == "" {
		var err error
		if token, err = crypto.GenerateToken(csrfTokenBytes); err != nil {
			return "", false, err
		}
		issued = true
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Domain:   g.domain,
		MaxAge:   int(csrfCookieTTL / time.Second),
		Secure:   g.forceSecure || requestIsHTTPS(c.Request),
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
	return token, issued, nil
}

func mutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func requestIsHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func bearerAuthorization(r *http.Request) bool {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	return ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(rest) != ""
}
