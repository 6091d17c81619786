package models

import (
	"time"

	"github.com/google/uuid"
)

const CredentialTypeBearer = "bearer"

// Credential is one hashed secret. Rows are immutable once created except for
// status; password history is retained by keeping old rows around.
type Credential struct {
	ID           uuid.UUID `json:"id"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserCredential binds a user to their currently active credential. At most
// one link per user carries StatusActive, enforced by a partial unique index.
type UserCredential struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	CredentialID uuid.UUID `json:"credential_id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}
