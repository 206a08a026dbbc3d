package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iauth "github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/services"
	"github.com/visera/backend/pkg/logger"
	"github.com/visera/backend/pkg/metrics"
)

const (
	defaultAuditRetentionDays = 90
	defaultSessionSpec        = "@hourly"
	defaultOTPSpec            = "@hourly"
	defaultCacheSpec          = "@daily"
	defaultAuditSpec          = "@daily"
	jobTimeout                = 5 * time.Minute
)

// Purger removes expired rows from a store, such as the database cache.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance tasks such as purging expired sessions and
// verification codes, expiring cache entries and pruning stale audit logs.
type Cleaner struct {
	sessions  *iauth.SessionService
	otp       *services.OTPService
	cache     Purger
	audit     *services.AuditService
	cron      *cron.Cron
	log       *zap.Logger
	retention int

	sessionSchedule string
	otpSchedule     string
	cacheSchedule   string
	auditSchedule   string
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) (int64, error)
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithCache enables the cache purge job.
func WithCache(store Purger) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = store
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithOTPSchedule overrides the cron specification for verification code cleanup.
func WithOTPSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.otpSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache cleanup.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding cleanup job being skipped.
func NewCleaner(sessions *iauth.SessionService, otp *services.OTPService, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:        sessions,
		otp:             otp,
		audit:           audit,
		retention:       defaultAuditRetentionDays,
		sessionSchedule: defaultSessionSpec,
		otpSchedule:     defaultOTPSpec,
		cacheSchedule:   defaultCacheSpec,
		auditSchedule:   defaultAuditSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) jobs() []job {
	var jobs []job
	if c.sessions != nil {
		jobs = append(jobs, job{name: "sessions", spec: c.sessionSchedule, run: c.sessions.CleanupExpired})
	}
	if c.otp != nil {
		jobs = append(jobs, job{name: "otp_codes", spec: c.otpSchedule, run: c.otp.PurgeExpired})
	}
	if c.cache != nil {
		jobs = append(jobs, job{name: "cache_entries", spec: c.cacheSchedule, run: c.cache.PurgeExpired})
	}
	if c.audit != nil && c.retention > 0 {
		jobs = append(jobs, job{name: "audit_logs", spec: c.auditSchedule, run: func(ctx context.Context) (int64, error) {
			return c.audit.CleanupOlderThan(ctx, c.retention)
		}})
	}
	return jobs
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	jobs := c.jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		j := j
		if _, err := c.cron.AddFunc(j.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			_ = c.runJob(ctx, j)
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", j.name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Used during graceful
// shutdown and in tests.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs() {
		errs = multierr.Append(errs, c.runJob(ctx, j))
	}
	return errs
}

func (c *Cleaner) runJob(ctx context.Context, j job) error {
	removed, err := j.run(ctx)
	if err != nil {
		metrics.MaintenanceRuns.WithLabelValues(j.name, "failure").Inc()
		c.log.Warn("cleanup failed", zap.String("job", j.name), zap.Error(err))
		return fmt.Errorf("%s: %w", j.name, err)
	}

	metrics.MaintenanceRuns.WithLabelValues(j.name, "success").Inc()
	if removed > 0 {
		c.log.Info("cleanup completed", zap.String("job", j.name), zap.Int64("removed", removed))
	}
	return nil
}
