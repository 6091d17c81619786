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

type OTPRepository struct {
	db DBTX
}

func (r *OTPRepository) Create(ctx context.Context, otp *models.OTP) (*models.OTP, error) {
	query := `
		INSERT INTO otp (id, user_id, otp_type, code_hash, salt, expires_at, is_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		otp.ID, otp.UserID, otp.OTPType, otp.CodeHash, otp.Salt,
		otp.ExpiresAt, otp.IsUsed, otp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return otp, nil
}

func (r *OTPRepository) GetActive(ctx context.Context, userID uuid.UUID, otpType string) (*models.OTP, error) {
	query := `
		SELECT id, user_id, otp_type, code_hash, salt, expires_at, is_used, created_at
		FROM otp
		WHERE user_id = $1 AND otp_type = $2 AND is_used = false
		ORDER BY created_at DESC
		LIMIT 1`

	otp := &models.OTP{}
	err := r.db.QueryRow(ctx, query, userID, otpType).Scan(
		&otp.ID, &otp.UserID, &otp.OTPType, &otp.CodeHash, &otp.Salt,
		&otp.ExpiresAt, &otp.IsUsed, &otp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return otp, nil
}

func (r *OTPRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE otp SET is_used = true WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *OTPRepository) DeactivateAll(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE otp SET is_used = true WHERE user_id = $1 AND is_used = false`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
