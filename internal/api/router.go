package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/visera/backend/internal/app"
	iauth "github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/cache"
	"github.com/visera/backend/internal/handlers"
	"github.com/visera/backend/internal/middleware"
	"github.com/visera/backend/internal/services"
	"github.com/visera/backend/pkg/mail"
)

// Dependencies are the long-lived collaborators built during bootstrap.
type Dependencies struct {
	JWT      *iauth.JWTService
	Sessions *iauth.SessionService
	// Mailer may be nil when email delivery is disabled.
	Mailer    mail.Mailer
	RateStore middleware.RateStore
	// Cache is optional; when set, OTP resend cooldowns are shared through it.
	Cache cache.Store
}

// NewRouter builds the Gin engine, wires middleware and registers the API routes.
func NewRouter(db *gorm.DB, cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}

	auditSvc, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	userSvc, err := services.NewUserService(db, auditSvc)
	if err != nil {
		return nil, err
	}
	otpCfg := cfg.Auth.OTPServiceConfig()
	if deps.Cache != nil {
		otpCfg.Cooldowns = deps.Cache
	}
	otpSvc, err := services.NewOTPService(db, otpCfg)
	if err != nil {
		return nil, err
	}
	verificationSvc, err := services.NewEmailVerificationService(userSvc, otpSvc, deps.JWT, deps.Mailer,
		services.WithVerificationBaseURL(cfg.Frontend.URL),
		services.WithVerificationAppName(cfg.Email.AppName),
	)
	if err != nil {
		return nil, err
	}
	authSvc, err := services.NewAuthService(userSvc, deps.Sessions, verificationSvc, auditSvc)
	if err != nil {
		return nil, err
	}

	cookieCfg := cfg.Auth.CookieConfig(cfg.IsProduction())
	cookies := iauth.NewCookieManager(cookieCfg)
	authenticator := middleware.NewAuthenticator(deps.JWT, deps.Sessions, userSvc, cookies)

	r := gin.New()
	r.HandleMethodNotAllowed = true

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:       cfg.CORS.AllowedOrigins,
		AllowedOriginPattern: cfg.CORS.AllowedOriginRegex,
	}))
	if cfg.Server.CSRF.Enabled {
		r.Use(middleware.CSRF(
			middleware.WithCSRFCookieDomain(cookieCfg.Domain),
			middleware.WithCSRFSecureCookie(cookieCfg.Secure),
		))
	}

	limits := rateLimits{}
	if cfg.Server.RateLimit.Enabled && deps.RateStore != nil {
		limits.global = middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window)
		limits.auth = middleware.ScopedRateLimit("auth", deps.RateStore, cfg.Server.RateLimit.AuthRequests, cfg.Server.RateLimit.Window)
		r.Use(limits.global)
	}

	registerHealthRoutes(r, db)

	authHandler := handlers.NewAuthHandler(authSvc, verificationSvc, cookies)
	registerAuthRoutes(r, authRouteDeps{
		Handler:       authHandler,
		Authenticator: authenticator,
		Limits:        limits,
	})

	registerUserRoutes(r, userRouteDeps{
		Handler:       handlers.NewUserHandler(authSvc, cookies),
		AuditHandler:  handlers.NewAuditHandler(auditSvc),
		Authenticator: authenticator,
		Limits:        limits,
	})

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	return r, nil
}

// rateLimits holds the optional limiter middleware; nil entries mean limiting is off.
type rateLimits struct {
	global gin.HandlerFunc
	auth   gin.HandlerFunc
}

// authLimited prepends the auth rate limit to handlers when it is enabled.
func (l rateLimits) authLimited(chain ...gin.HandlerFunc) []gin.HandlerFunc {
	if l.auth == nil {
		return chain
	}
	return append([]gin.HandlerFunc{l.auth}, chain...)
}
