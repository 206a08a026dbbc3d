package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/visera/backend/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist or was deleted.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrIncorrectPassword is returned when the current password supplied for a change does not match.
	ErrIncorrectPassword = apperrors.New("INCORRECT_PASSWORD", "Current password is incorrect", http.StatusBadRequest)

	ErrOTPInvalid         = apperrors.New("OTP_INVALID", "Invalid verification code", http.StatusBadRequest)
	ErrOTPExpired         = apperrors.New("OTP_EXPIRED", "Verification code has expired", http.StatusBadRequest)
	ErrOTPTooManyAttempts = apperrors.New("OTP_TOO_MANY_ATTEMPTS", "Too many attempts. Please request a new code.", http.StatusTooManyRequests)
	ErrOTPCooldown        = apperrors.New("OTP_COOLDOWN", "Please wait before requesting another code", http.StatusTooManyRequests)

	ErrEmailAlreadyVerified    = apperrors.New("EMAIL_ALREADY_VERIFIED", "Email already verified", http.StatusBadRequest)
	ErrInvalidVerificationLink = apperrors.New("INVALID_VERIFICATION_LINK", "Invalid or expired verification link", http.StatusBadRequest)
	ErrMailUnavailable         = apperrors.New("MAIL_UNAVAILABLE", "Email delivery is not configured", http.StatusServiceUnavailable)
	ErrMailDelivery            = apperrors.New("MAIL_DELIVERY_FAILED", "Failed to send verification email", http.StatusInternalServerError)
)

// isUniqueConstraintError detects uniqueness violations from postgres and sqlite.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key")
}
