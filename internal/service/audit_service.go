package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kmulambia/qgen-engine/internal/models"
	"github.com/kmulambia/qgen-engine/internal/repository"
)

// AuditService writes append-only security events. Records go through the
// repository set the caller passes in, so an audit written inside a
// transaction commits or rolls back together with the operation it documents.
type AuditService struct {
	now func() time.Time
}

func NewAuditService() *AuditService {
	return &AuditService{now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (s *AuditService) WithClock(now func() time.Time) *AuditService {
	s.now = now
	return s
}

// Record inserts one audit row. When actor carries an "id" UUID it is lifted
// into the indexed user_id column; the full actor map is kept as metadata.
func (s *AuditService) Record(ctx context.Context, r repository.Repositories, action string, actor, entityMeta map[string]any, status string) error {
	record := &models.AuditRecord{
		ID:             uuid.New(),
		Action:         action,
		UserMetadata:   sanitizeMetadata(actor),
		EntityMetadata: sanitizeMetadata(entityMeta),
		Status:         status,
		CreatedAt:      s.now().UTC(),
	}

	if actor != nil {
		if id, ok := actor["id"].(uuid.UUID); ok {
			record.UserID = &id
		}
	}

	if _, err := r.Audits.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to record audit %q: %w", action, err)
	}
	return nil
}

// sanitizeMetadata makes the map JSON-safe: UUIDs and timestamps become
// strings, nested maps are walked recursively.
func sanitizeMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch value := v.(type) {
	case uuid.UUID:
		return value.String()
	case *uuid.UUID:
		if value == nil {
			return nil
		}
		return value.String()
	case time.Time:
		return value.UTC().Format(time.RFC3339)
	case map[string]any:
		return sanitizeMetadata(value)
	default:
		return v
	}
}
