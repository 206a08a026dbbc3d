package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/visera/backend/internal/models"
	"github.com/visera/backend/pkg/crypto"
)

const (
	DefaultOTPLength         = 6
	DefaultOTPTTL            = 15 * time.Minute
	DefaultOTPMaxAttempts    = 5
	DefaultOTPResendCooldown = 60 * time.Second
)

// CooldownStore holds short-lived markers shared by every API instance. cache.Store
// satisfies it.
type CooldownStore interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, time.Duration, error)
	Delete(ctx context.Context, keys ...string) error
}

// OTPConfig tunes code generation and verification. Cooldowns is optional; when set, the
// resend cooldown is claimed there so concurrent resends cannot both issue a code.
type OTPConfig struct {
	Length         int
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	Cooldowns      CooldownStore
	Clock          func() time.Time
}

// IssuedOTP is a freshly generated code. Code is the only plaintext copy.
type IssuedOTP struct {
	Code      string
	ExpiresAt time.Time
}

// OTPService issues and checks one-time codes stored as bcrypt hashes.
type OTPService struct {
	db          *gorm.DB
	length      int
	ttl         time.Duration
	maxAttempts int
	cooldown    time.Duration
	cooldowns   CooldownStore
	now         func() time.Time
}

// NewOTPService constructs an OTPService, filling unset configuration with defaults. A negative
// ResendCooldown disables the cooldown.
func NewOTPService(db *gorm.DB, cfg OTPConfig) (*OTPService, error) {
	if db == nil {
		return nil, errors.New("otp service: db is required")
	}

	svc := &OTPService{
		db:          db,
		length:      cfg.Length,
		ttl:         cfg.TTL,
		maxAttempts: cfg.MaxAttempts,
		cooldown:    cfg.ResendCooldown,
		cooldowns:   cfg.Cooldowns,
		now:         cfg.Clock,
	}
	if svc.length <= 0 {
		svc.length = DefaultOTPLength
	}
	if svc.ttl <= 0 {
		svc.ttl = DefaultOTPTTL
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = DefaultOTPMaxAttempts
	}
	switch {
	case svc.cooldown < 0:
		svc.cooldown = 0
	case svc.cooldown == 0:
		svc.cooldown = DefaultOTPResendCooldown
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// TTL reports how long issued codes stay valid.
func (s *OTPService) TTL() time.Duration {
	return s.ttl
}

// Issue generates a new code for the user. Any earlier unconsumed code of the same type stops
// being valid. A new code within the resend cooldown of the previous one fails with
// ErrOTPCooldown.
func (s *OTPService) Issue(ctx context.Context, userID, otpType string) (IssuedOTP, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return IssuedOTP{}, errors.New("otp service: user id is required")
	}

	now := s.now().UTC()

	latest, err := s.latest(ctx, userID, otpType, false)
	if err != nil {
		return IssuedOTP{}, err
	}
	if latest != nil && s.cooldown > 0 && now.Sub(latest.CreatedAt) < s.cooldown {
		return IssuedOTP{}, ErrOTPCooldown
	}

	release, err := s.claimCooldown(ctx, userID, otpType, now)
	if err != nil {
		return IssuedOTP{}, err
	}
	issued, err := s.issue(ctx, userID, otpType, now)
	if err != nil {
		release()
		return IssuedOTP{}, err
	}
	return issued, nil
}

// claimCooldown reserves the resend window in the shared store. The returned func gives the
// window back when issuing fails afterwards.
func (s *OTPService) claimCooldown(ctx context.Context, userID, otpType string, now time.Time) (func(), error) {
	if s.cooldowns == nil || s.cooldown <= 0 {
		return func() {}, nil
	}

	key := otpCooldownKey(userID, otpType)
	claimed, _, err := s.cooldowns.SetNX(ctx, key, []byte(now.Format(time.RFC3339Nano)), s.cooldown)
	if err != nil {
		return nil, fmt.Errorf("otp service: claim resend cooldown: %w", err)
	}
	if !claimed {
		return nil, ErrOTPCooldown
	}
	return func() {
		_ = s.cooldowns.Delete(context.WithoutCancel(ctx), key)
	}, nil
}

func otpCooldownKey(userID, otpType string) string {
	return "otp-cooldown:" + otpType + ":" + userID
}

func (s *OTPService) issue(ctx context.Context, userID, otpType string, now time.Time) (IssuedOTP, error) {
	code, err := crypto.GenerateNumericCode(s.length)
	if err != nil {
		return IssuedOTP{}, fmt.Errorf("otp service: generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return IssuedOTP{}, fmt.Errorf("otp service: hash code: %w", err)
	}

	record := &models.OTPCode{
		UserID:    userID,
		Type:      otpType,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.OTPCode{}).
			Where("user_id = ? AND type = ? AND consumed_at IS NULL", userID, otpType).
			Update("consumed_at", now).Error; err != nil {
			return fmt.Errorf("otp service: invalidate codes: %w", err)
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("otp service: store code: %w", err)
		}
		return nil
	})
	if err != nil {
		return IssuedOTP{}, err
	}

	return IssuedOTP{Code: code, ExpiresAt: record.ExpiresAt}, nil
}

// Verify checks code against the latest unconsumed code of the given type and consumes it on
// success. Every check counts towards the attempt limit, including the one that succeeds.
func (s *OTPService) Verify(ctx context.Context, userID, otpType, code string) error {
	ctx = ensureContext(ctx)

	code = strings.TrimSpace(code)
	if code == "" {
		return ErrOTPInvalid
	}

	record, err := s.latest(ctx, userID, otpType, true)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrOTPInvalid
	}

	now := s.now().UTC()
	if !record.Usable(now) {
		return ErrOTPExpired
	}

	// The attempt is counted before the code is compared, so concurrent guesses cannot
	// exceed the limit.
	claim := s.db.WithContext(ctx).Model(&models.OTPCode{}).
		Where("id = ? AND consumed_at IS NULL AND attempts < ?", record.ID, s.maxAttempts).
		UpdateColumn("attempts", gorm.Expr("attempts + ?", 1))
	if claim.Error != nil {
		return fmt.Errorf("otp service: record attempt: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		return s.rejectUnclaimed(ctx, record.ID)
	}

	if bcrypt.CompareHashAndPassword([]byte(record.CodeHash), []byte(code)) != nil {
		var attempts int
		if err := s.db.WithContext(ctx).Model(&models.OTPCode{}).
			Where("id = ?", record.ID).Pluck("attempts", &attempts).Error; err != nil {
			return fmt.Errorf("otp service: load attempts: %w", err)
		}
		if attempts >= s.maxAttempts {
			return ErrOTPTooManyAttempts
		}
		return ErrOTPInvalid
	}

	result := s.db.WithContext(ctx).Model(&models.OTPCode{}).
		Where("id = ? AND consumed_at IS NULL", record.ID).
		Update("consumed_at", now)
	if result.Error != nil {
		return fmt.Errorf("otp service: consume code: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOTPInvalid
	}
	return nil
}

// rejectUnclaimed explains why no attempt could be recorded: the code was consumed by a
// concurrent request or it has used up its attempts.
func (s *OTPService) rejectUnclaimed(ctx context.Context, id string) error {
	var current models.OTPCode
	if err := s.db.WithContext(ctx).Take(&current, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOTPInvalid
		}
		return fmt.Errorf("otp service: load code: %w", err)
	}
	if current.ConsumedAt != nil {
		return ErrOTPInvalid
	}
	return ErrOTPTooManyAttempts
}

// Invalidate consumes every outstanding code of the type for the user.
func (s *OTPService) Invalidate(ctx context.Context, userID, otpType string) error {
	ctx = ensureContext(ctx)

	if err := s.db.WithContext(ctx).Model(&models.OTPCode{}).
		Where("user_id = ? AND type = ? AND consumed_at IS NULL", userID, otpType).
		Update("consumed_at", s.now().UTC()).Error; err != nil {
		return fmt.Errorf("otp service: invalidate codes: %w", err)
	}
	return nil
}

// PurgeExpired deletes consumed and expired codes.
func (s *OTPService) PurgeExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now().UTC()).
		Or("consumed_at IS NOT NULL").
		Delete(&models.OTPCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("otp service: purge codes: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *OTPService) latest(ctx context.Context, userID, otpType string, unconsumedOnly bool) (*models.OTPCode, error) {
	query := s.db.WithContext(ctx).Where("user_id = ? AND type = ?", userID, otpType)
	if unconsumedOnly {
		query = query.Where("consumed_at IS NULL")
	}

	var record models.OTPCode
	err := query.Order("created_at DESC").Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("otp service: load code: %w", err)
	}
	return &record, nil
}
