package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kmulambia/qgen-engine/internal/models"
	"github.com/kmulambia/qgen-engine/internal/repository"
)

type TokenRepository struct {
	db DBTX
}

func (r *TokenRepository) Create(ctx context.Context, token *models.SessionToken) (*models.SessionToken, error) {
	query := `
		INSERT INTO tokens (id, jwt_token, user_id, token_type, expires_at,
			last_used_at, last_ip_address, user_agent, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		token.ID, token.JWT, token.UserID, token.TokenType, token.ExpiresAt,
		token.LastUsedAt, nullableString(token.LastIPAddress), nullableString(token.UserAgent),
		token.Status, token.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return token, nil
}

func (r *TokenRepository) GetLatestByUserID(ctx context.Context, userID uuid.UUID) (*models.SessionToken, error) {
	query := `
		SELECT id, jwt_token, user_id, token_type, expires_at,
			last_used_at, last_ip_address, user_agent, status, created_at
		FROM tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	token := &models.SessionToken{}
	var lastIP, userAgent *string
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&token.ID, &token.JWT, &token.UserID, &token.TokenType, &token.ExpiresAt,
		&token.LastUsedAt, &lastIP, &userAgent, &token.Status, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if lastIP != nil {
		token.LastIPAddress = *lastIP
	}
	if userAgent != nil {
		token.UserAgent = *userAgent
	}

	return token, nil
}

func (r *TokenRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE tokens SET status = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
