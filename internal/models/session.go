package models

import "time"

// Session backs a refresh token. Access tokens carry the session ID so revoking the row
// invalidates every token issued for it.
type Session struct {
	BaseModel

	UserID      string     `gorm:"type:uuid;not null;index" json:"user_id"`
	RefreshHash string     `gorm:"uniqueIndex;not null" json:"-"`
	IPAddress   string     `json:"ip_address"`
	UserAgent   string     `json:"user_agent"`
	ExpiresAt   time.Time  `gorm:"index" json:"expires_at"`
	LastUsedAt  time.Time  `json:"last_used_at"`
	RevokedAt   *time.Time `json:"revoked_at"`
}

// Active reports whether the session is neither revoked nor expired at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
