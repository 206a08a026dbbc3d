package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/visera/backend/internal/models"
	"github.com/visera/backend/pkg/crypto"
	apperrors "github.com/visera/backend/pkg/errors"
)

const (
	// MinPasswordLength is the shortest password accepted for an account.
	MinPasswordLength = 8
	// MaxPasswordLength is bcrypt's input limit.
	MaxPasswordLength = 72
)

// UserService manages the account lifecycle: registration, lookup, verification, password
// changes and soft deletion.
type UserService struct {
	db           *gorm.DB
	auditService *AuditService
	now          func() time.Time
}

// UserServiceOption customises a UserService.
type UserServiceOption func(*UserService)

// WithUserClock overrides the clock used for verification and login timestamps.
func WithUserClock(now func() time.Time) UserServiceOption {
	return func(s *UserService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, auditService *AuditService, opts ...UserServiceOption) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	svc := &UserService{
		db:           db,
		auditService: auditService,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create registers an unverified user with a hashed password.
func (s *UserService) Create(ctx context.Context, email, password string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = normaliseEmail(email)
	if email == "" {
		return nil, apperrors.NewValidation("email is required")
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	existing, err := s.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.ErrEmailTaken
	}

	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Email:    email,
		Password: hashed,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrEmailTaken
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &user.ID,
		Email:    user.Email,
		Action:   AuditActionSignup,
		Resource: "users",
		Result:   auditResultSuccess,
	})

	return user, nil
}

// GetByID loads a non-deleted user by identifier.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// GetByEmail returns the non-deleted user registered with email, or nil when there is none.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = normaliseEmail(email)
	if email == "" {
		return nil, nil
	}

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user by email: %w", err)
	}
	return &user, nil
}

// MarkEmailVerified flags the user's email as verified. Verifying twice keeps the first timestamp.
func (s *UserService) MarkEmailVerified(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsEmailVerified {
		return user, nil
	}

	now := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(user).Updates(map[string]any{
		"is_email_verified": true,
		"email_verified_at": now,
	}).Error; err != nil {
		return nil, fmt.Errorf("user service: mark email verified: %w", err)
	}

	user.IsEmailVerified = true
	user.EmailVerifiedAt = &now

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &user.ID,
		Email:    user.Email,
		Action:   AuditActionEmailVerified,
		Resource: "users",
		Result:   auditResultSuccess,
	})

	return user, nil
}

// ChangePassword replaces the user's password after checking the current one.
func (s *UserService) ChangePassword(ctx context.Context, id, currentPassword, newPassword string) error {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if !crypto.VerifyPassword(user.Password, currentPassword) {
		recordAudit(s.auditService, ctx, AuditEntry{
			UserID:   &user.ID,
			Email:    user.Email,
			Action:   AuditActionPasswordChange,
			Resource: "users",
			Result:   auditResultFailure,
		})
		return ErrIncorrectPassword
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("user service: hash password: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(user).Update("password", hashed).Error; err != nil {
		return fmt.Errorf("user service: update password: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &user.ID,
		Email:    user.Email,
		Action:   AuditActionPasswordChange,
		Resource: "users",
		Result:   auditResultSuccess,
	})

	return nil
}

// SoftDelete marks the user deleted. The row is kept but is invisible to lookups and its
// email can be registered again.
func (s *UserService) SoftDelete(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Delete(user).Error; err != nil {
		return nil, fmt.Errorf("user service: delete user: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &user.ID,
		Email:    user.Email,
		Action:   AuditActionDelete,
		Resource: "users",
		Result:   auditResultSuccess,
	})

	return user, nil
}

// TouchLastLogin records a successful login.
func (s *UserService) TouchLastLogin(ctx context.Context, user *models.User) error {
	ctx = ensureContext(ctx)

	now := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(user).UpdateColumn("last_login_at", now).Error; err != nil {
		return fmt.Errorf("user service: update last login: %w", err)
	}
	user.LastLoginAt = &now
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperrors.NewValidation(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > MaxPasswordLength {
		return apperrors.NewValidation(fmt.Sprintf("password must be at most %d characters", MaxPasswordLength))
	}
	return nil
}
