package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/database/testutil"
	"github.com/visera/backend/internal/models"
	apperrors "github.com/visera/backend/pkg/errors"
	"github.com/visera/backend/pkg/mail"
)

const testPassword = "correct-horse"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	err      error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) Sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

type serviceFixture struct {
	db           *gorm.DB
	clock        *testClock
	mailer       *recordingMailer
	audit        *AuditService
	users        *UserService
	otp          *OTPService
	jwt          *auth.JWTService
	sessions     *auth.SessionService
	verification *EmailVerificationService
	auth         *AuthService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	audit, err := NewAuditService(db)
	require.NoError(t, err)

	users, err := NewUserService(db, audit, WithUserClock(clock.Now))
	require.NoError(t, err)

	otp, err := NewOTPService(db, OTPConfig{Clock: clock.Now})
	require.NoError(t, err)

	jwtSvc, err := auth.NewJWTService(auth.JWTConfig{
		Secret: "test-secret-test-secret-test-secret",
		Issuer: "visera-test",
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	sessions, err := auth.NewSessionService(db, jwtSvc, auth.SessionConfig{Clock: clock.Now})
	require.NoError(t, err)

	mailer := &recordingMailer{}
	verification, err := NewEmailVerificationService(users, otp, jwtSvc, mailer,
		WithVerificationBaseURL("https://app.example.com"),
	)
	require.NoError(t, err)

	authSvc, err := NewAuthService(users, sessions, verification, audit)
	require.NoError(t, err)

	return &serviceFixture{
		db:           db,
		clock:        clock,
		mailer:       mailer,
		audit:        audit,
		users:        users,
		otp:          otp,
		jwt:          jwtSvc,
		sessions:     sessions,
		verification: verification,
		auth:         authSvc,
	}
}

func (f *serviceFixture) createUser(t *testing.T, email string) *models.User {
	t.Helper()

	user, err := f.users.Create(context.Background(), email, testPassword)
	require.NoError(t, err)
	return user
}

func requireAppError(t *testing.T, err error, status int) *apperrors.AppError {
	t.Helper()

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	require.Equal(t, status, appErr.StatusCode)
	return appErr
}
