package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kmulambia/qgen-engine/internal/models"
)

type AuditRepository struct {
	db DBTX
}

func (r *AuditRepository) Create(ctx context.Context, record *models.AuditRecord) (*models.AuditRecord, error) {
	userMeta, err := marshalMetadata(record.UserMetadata)
	if err != nil {
		return nil, err
	}
	entityMeta, err := marshalMetadata(record.EntityMetadata)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO audits (id, user_id, action, user_metadata, entity_metadata, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.Exec(ctx, query,
		record.ID, record.UserID, record.Action, userMeta, entityMeta,
		record.Status, record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return record, nil
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit metadata: %w", err)
	}
	return data, nil
}
