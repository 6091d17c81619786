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

type CredentialRepository struct {
	db DBTX
}

func (r *CredentialRepository) CreateCredential(ctx context.Context, credential *models.Credential) (*models.Credential, error) {
	query := `
		INSERT INTO credentials (id, password_hash, salt, type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		credential.ID, credential.PasswordHash, credential.Salt,
		credential.Type, credential.Status, credential.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return credential, nil
}

func (r *CredentialRepository) GetCredential(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	query := `
		SELECT id, password_hash, salt, type, status, created_at
		FROM credentials
		WHERE id = $1`

	credential := &models.Credential{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&credential.ID, &credential.PasswordHash, &credential.Salt,
		&credential.Type, &credential.Status, &credential.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return credential, nil
}

func (r *CredentialRepository) CreateUserCredential(ctx context.Context, link *models.UserCredential) (*models.UserCredential, error) {
	query := `
		INSERT INTO user_credentials (id, user_id, credential_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		link.ID, link.UserID, link.CredentialID, link.Status, link.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return link, nil
}

func (r *CredentialRepository) GetActiveUserCredential(ctx context.Context, userID uuid.UUID) (*models.UserCredential, error) {
	query := `
		SELECT id, user_id, credential_id, status, created_at
		FROM user_credentials
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1`

	link := &models.UserCredential{}
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&link.ID, &link.UserID, &link.CredentialID, &link.Status, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return link, nil
}

func (r *CredentialRepository) DeactivateUserCredentials(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE user_credentials
		SET status = 'inactive'
		WHERE user_id = $1 AND status = 'active'`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
