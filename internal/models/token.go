package models

import (
	"time"

	"github.com/google/uuid"
)

const TokenTypeBearer = "bearer"

// SessionToken is one row per successful login. Multiple concurrent sessions
// per user are allowed. Rows go active -> expired lazily, the first time an
// expired token is presented; they are never physically deleted.
type SessionToken struct {
	ID            uuid.UUID  `json:"id"`
	JWT           string     `json:"jwt"`
	UserID        uuid.UUID  `json:"user_id"`
	TokenType     string     `json:"token_type"`
	ExpiresAt     time.Time  `json:"expires_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	LastIPAddress string     `json:"last_ip_address,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
}
