package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/models"
	"github.com/visera/backend/pkg/logger"
	"github.com/visera/backend/pkg/mail"
	"github.com/visera/backend/pkg/metrics"
)

const verifyEmailPath = "/verify-email"

// VerificationOption customises the EmailVerificationService.
type VerificationOption func(*EmailVerificationService)

// WithVerificationBaseURL sets the frontend URL used to build verification links.
func WithVerificationBaseURL(baseURL string) VerificationOption {
	return func(s *EmailVerificationService) {
		s.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithVerificationAppName sets the product name shown in verification emails.
func WithVerificationAppName(name string) VerificationOption {
	return func(s *EmailVerificationService) {
		if strings.TrimSpace(name) != "" {
			s.appName = strings.TrimSpace(name)
		}
	}
}

// WithVerificationLogger overrides the logger.
func WithVerificationLogger(log *zap.Logger) VerificationOption {
	return func(s *EmailVerificationService) {
		if log != nil {
			s.log = log
		}
	}
}

// EmailVerificationService confirms ownership of an account's email address, either with a
// one-time code or with a signed link.
type EmailVerificationService struct {
	users   *UserService
	otp     *OTPService
	jwt     *auth.JWTService
	mailer  mail.Mailer
	baseURL string
	appName string
	log     *zap.Logger
}

// NewEmailVerificationService constructs a verification service with the provided dependencies.
func NewEmailVerificationService(users *UserService, otp *OTPService, jwt *auth.JWTService, mailer mail.Mailer, opts ...VerificationOption) (*EmailVerificationService, error) {
	if users == nil {
		return nil, errors.New("email verification service: user service is required")
	}
	if otp == nil {
		return nil, errors.New("email verification service: otp service is required")
	}
	if jwt == nil {
		return nil, errors.New("email verification service: jwt service is required")
	}

	service := &EmailVerificationService{
		users:   users,
		otp:     otp,
		jwt:     jwt,
		mailer:  mailer,
		appName: "Visera",
		log:     logger.WithModule("email-verification"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// SendVerification issues a fresh code and link and emails them to the user. It reports false
// without an error when the user does not exist or is already verified.
func (s *EmailVerificationService) SendVerification(ctx context.Context, userID string) (bool, error) {
	ctx = ensureContext(ctx)

	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if user.IsEmailVerified {
		return false, nil
	}
	if s.mailer == nil {
		return false, ErrMailUnavailable
	}

	issued, err := s.otp.Issue(ctx, user.ID, models.OTPTypeEmailVerification)
	if err != nil {
		return false, err
	}

	token, err := s.jwt.GenerateEmailVerificationToken(user.ID, user.Email)
	if err != nil {
		return false, fmt.Errorf("email verification service: sign link token: %w", err)
	}

	msg, err := mail.RenderVerificationEmail(mail.VerificationEmail{
		AppName:   s.appName,
		Email:     user.Email,
		Code:      issued.Code,
		Link:      s.verificationLink(token),
		ExpiresIn: s.otp.TTL(),
	})
	if err != nil {
		return false, fmt.Errorf("email verification service: %w", err)
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		if errors.Is(err, mail.ErrSMTPDisabled) {
			metrics.MailDeliveries.WithLabelValues("disabled").Inc()
			return false, ErrMailUnavailable
		}
		metrics.MailDeliveries.WithLabelValues("failure").Inc()
		s.log.Warn("verification email delivery failed", zap.String("user_id", user.ID), zap.Error(err))
		return false, ErrMailDelivery.WithInternal(err)
	}

	metrics.MailDeliveries.WithLabelValues("success").Inc()
	return true, nil
}

// Resend sends a new verification email to a user that is still unverified.
func (s *EmailVerificationService) Resend(ctx context.Context, user *models.User) error {
	if user.IsEmailVerified {
		return ErrEmailAlreadyVerified
	}

	sent, err := s.SendVerification(ctx, user.ID)
	if err != nil {
		return err
	}
	if !sent {
		// The account was verified or deleted since the caller loaded it.
		return ErrEmailAlreadyVerified
	}
	return nil
}

// VerifyOTP checks the user's latest verification code and marks the email verified.
func (s *EmailVerificationService) VerifyOTP(ctx context.Context, userID, code string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsEmailVerified {
		return user, nil
	}

	if err := s.otp.Verify(ctx, user.ID, models.OTPTypeEmailVerification, code); err != nil {
		metrics.EmailVerifications.WithLabelValues("otp", "failure").Inc()
		return nil, err
	}

	verified, err := s.users.MarkEmailVerified(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	metrics.EmailVerifications.WithLabelValues("otp", "success").Inc()
	return verified, nil
}

// VerifyLink validates a verification link token and marks the email verified. The token only
// applies while the account still uses the address it was issued for.
func (s *EmailVerificationService) VerifyLink(ctx context.Context, token string) (*models.User, error) {
	ctx = ensureContext(ctx)

	claims, err := s.jwt.ValidateEmailVerificationToken(strings.TrimSpace(token))
	if err != nil {
		metrics.EmailVerifications.WithLabelValues("link", "failure").Inc()
		return nil, ErrInvalidVerificationLink.WithInternal(err)
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if errors.Is(err, ErrUserNotFound) {
		metrics.EmailVerifications.WithLabelValues("link", "failure").Inc()
		return nil, ErrInvalidVerificationLink
	}
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(user.Email, claims.Email) {
		metrics.EmailVerifications.WithLabelValues("link", "failure").Inc()
		return nil, ErrInvalidVerificationLink
	}
	if user.IsEmailVerified {
		return user, nil
	}

	verified, err := s.users.MarkEmailVerified(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.otp.Invalidate(ctx, user.ID, models.OTPTypeEmailVerification); err != nil {
		s.log.Warn("failed to invalidate verification codes", zap.String("user_id", user.ID), zap.Error(err))
	}

	metrics.EmailVerifications.WithLabelValues("link", "success").Inc()
	return verified, nil
}

func (s *EmailVerificationService) verificationLink(token string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + verifyEmailPath + "?token=" + url.QueryEscape(token)
}
