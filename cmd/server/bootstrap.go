package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/visera/backend/internal/api"
	"github.com/visera/backend/internal/app"
	"github.com/visera/backend/internal/app/maintenance"
	iauth "github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/cache"
	"github.com/visera/backend/internal/database"
	"github.com/visera/backend/internal/middleware"
	"github.com/visera/backend/internal/services"
	"github.com/visera/backend/pkg/logger"
	"github.com/visera/backend/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Mailer    mail.Mailer
	Sessions  *iauth.SessionService
	Cleaner   *maintenance.Cleaner
	RateStore middleware.RateStore
	Router    *gin.Engine

	cancel context.CancelFunc
}

// bootstrapRuntime opens the database, builds the services and the HTTP router and starts
// background maintenance.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Sessions, err = iauth.NewSessionService(stack.DB, jwtSvc, cfg.Auth.SessionServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	stack.Mailer, err = cfg.Email.NewMailer()
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}
	if stack.Mailer == nil {
		log.Warn("email delivery disabled; verification emails will not be sent")
	} else {
		log.Info("email delivery configured", zap.String("mode", cfg.Email.DeliveryMode()))
	}

	storeCtx, cancel := context.WithCancel(ctx)
	stack.cancel = cancel

	rateStore, cacheStore := cfg.Cache.RateStore(storeCtx, stack.DB)
	stack.RateStore = rateStore
	log.Info("rate limiter configured", zap.String("driver", cfg.Cache.DriverName()))

	if cfg.Maintenance.Enabled {
		stack.Cleaner, err = newCleaner(stack.DB, cfg, stack.Sessions, cacheStore)
		if err != nil {
			return nil, err
		}
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(stack.DB, cfg, api.Dependencies{
		JWT:       jwtSvc,
		Sessions:  stack.Sessions,
		Mailer:    stack.Mailer,
		RateStore: stack.RateStore,
		Cache:     cacheStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func newCleaner(db *gorm.DB, cfg *app.Config, sessions *iauth.SessionService, store cache.Store) (*maintenance.Cleaner, error) {
	auditSvc, err := services.NewAuditService(db)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}
	otpSvc, err := services.NewOTPService(db, cfg.Auth.OTPServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise otp service: %w", err)
	}

	opts := []maintenance.Option{
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
	}
	if purger, ok := store.(maintenance.Purger); ok {
		opts = append(opts, maintenance.WithCache(purger))
	}

	return maintenance.NewCleaner(sessions, otpSvc, auditSvc, opts...), nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	if closer, ok := s.Mailer.(io.Closer); ok && closer != nil {
		if err := closer.Close(); err != nil {
			log.Warn("mailer shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
