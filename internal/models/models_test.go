package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	require.NoError(t, base.BeforeCreate(nil))
	require.NotEmpty(t, base.ID)

	existing := BaseModel{ID: "fixed"}
	require.NoError(t, existing.BeforeCreate(nil))
	require.Equal(t, "fixed", existing.ID)
}

func TestModelsGenerateIDs(t *testing.T) {
	user := &User{}
	require.NoError(t, user.BeforeCreate(nil))
	require.NotEmpty(t, user.ID)

	code := &OTPCode{}
	require.NoError(t, code.BeforeCreate(nil))
	require.NotEmpty(t, code.ID)

	entry := &AuditLog{}
	require.NoError(t, entry.BeforeCreate(nil))
	require.NotEmpty(t, entry.ID)

	session := &Session{}
	require.NoError(t, session.BeforeCreate(nil))
	require.NotEmpty(t, session.ID)
}

func TestOTPCodeUsable(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	code := OTPCode{ExpiresAt: now.Add(time.Minute)}
	require.True(t, code.Usable(now))
	require.False(t, code.Usable(now.Add(time.Minute)))

	consumed := now
	code.ConsumedAt = &consumed
	require.False(t, code.Usable(now))
}

func TestSessionActive(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	session := Session{ExpiresAt: now.Add(time.Hour)}
	require.True(t, session.Active(now))
	require.False(t, session.Active(now.Add(2*time.Hour)))

	revoked := now
	session.RevokedAt = &revoked
	require.False(t, session.Active(now))
}
