package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OTPTypeEmailVerification marks codes issued to confirm a user's email address.
const OTPTypeEmailVerification = "email_verification"

// OTPCode is a hashed one-time code. Only the most recent unconsumed code of a type is valid.
type OTPCode struct {
	ID         string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID     string     `gorm:"type:uuid;not null;index:idx_otp_codes_user_type_created,priority:1" json:"user_id"`
	Type       string     `gorm:"size:32;not null;index:idx_otp_codes_user_type_created,priority:2" json:"type"`
	CodeHash   string     `gorm:"not null" json:"-"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
	ExpiresAt  time.Time  `gorm:"not null;index" json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `gorm:"index:idx_otp_codes_user_type_created,priority:3" json:"created_at"`
}

func (o *OTPCode) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// Usable reports whether the code can still be checked at now.
func (o *OTPCode) Usable(now time.Time) bool {
	return o.ConsumedAt == nil && now.Before(o.ExpiresAt)
}
