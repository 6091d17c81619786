package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AuditStatusSuccess = "success"
	AuditStatusFailed  = "failed"
)

// AuditRecord is an append-only security event. Rows are never updated or
// deleted.
type AuditRecord struct {
	ID             uuid.UUID      `json:"id"`
	UserID         *uuid.UUID     `json:"user_id,omitempty"`
	Action         string         `json:"action"`
	UserMetadata   map[string]any `json:"user_metadata,omitempty"`
	EntityMetadata map[string]any `json:"entity_metadata,omitempty"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}
