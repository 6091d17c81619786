package models

import (
	"time"

	"github.com/google/uuid"
)

const OTPTypePasswordReset = "password-reset"

// OTP is a short-lived one-time code. At most one non-used, non-expired row
// exists per (user_id, otp_type); consumption flips IsUsed exactly once.
type OTP struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	OTPType   string    `json:"otp_type"`
	CodeHash  string    `json:"-"`
	Salt      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	IsUsed    bool      `json:"is_used"`
	CreatedAt time.Time `json:"created_at"`
}
