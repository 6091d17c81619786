package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kmulambia/qgen-engine/internal/hashing"
	"github.com/kmulambia/qgen-engine/internal/models"
	"github.com/kmulambia/qgen-engine/internal/repository"
	"github.com/kmulambia/qgen-engine/internal/util"
)

// OTPTTL is how long a generated code stays valid.
const OTPTTL = 10 * time.Minute

const otpCodeLength = 6

// OTPService issues and consumes one-time codes. Codes are stored hashed with
// the same vault as passwords; the plaintext exists only between Generate and
// the mailer hand-off.
type OTPService struct {
	vault  *hashing.Vault
	audits *AuditService
	now    func() time.Time
}

func NewOTPService(vault *hashing.Vault, audits *AuditService) *OTPService {
	return &OTPService{vault: vault, audits: audits, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (s *OTPService) WithClock(now func() time.Time) *OTPService {
	s.now = now
	return s
}

// Generate creates a fresh code for (user, type). While a non-used,
// non-expired code exists the request is rejected with ErrActiveOTPExists;
// an expired leftover is deactivated and replaced.
func (s *OTPService) Generate(ctx context.Context, r repository.Repositories, user *models.User, otpType string) (*models.OTP, string, error) {
	now := s.now().UTC()

	existing, err := r.OTPs.GetActive(ctx, user.ID, otpType)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to load active code: %w", err)
	}
	if existing != nil {
		if existing.ExpiresAt.After(now) {
			return nil, "", ErrActiveOTPExists
		}
		if err := r.OTPs.DeactivateAll(ctx, user.ID); err != nil {
			return nil, "", fmt.Errorf("failed to deactivate stale codes: %w", err)
		}
	}

	code, err := util.RandomCode(otpCodeLength)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate code: %w", err)
	}

	hash, salt, err := s.vault.Hash(code)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash code: %w", err)
	}

	otp := &models.OTP{
		ID:        uuid.New(),
		UserID:    user.ID,
		OTPType:   otpType,
		CodeHash:  hash,
		Salt:      salt,
		ExpiresAt: now.Add(OTPTTL),
		IsUsed:    false,
		CreatedAt: now,
	}
	if _, err := r.OTPs.Create(ctx, otp); err != nil {
		return nil, "", fmt.Errorf("failed to store code: %w", err)
	}

	actor := map[string]any{"id": user.ID, "email": user.Email}
	entity := map[string]any{"otp_type": otpType, "expires_at": otp.ExpiresAt}
	if err := s.audits.Record(ctx, r, "otp.request."+otpType, actor, entity, models.AuditStatusSuccess); err != nil {
		return nil, "", err
	}

	return otp, code, nil
}

// Verify consumes the active code for (user, type). Absent, expired or
// mismatched codes return false without touching state; a correct code is
// marked used exactly once.
func (s *OTPService) Verify(ctx context.Context, r repository.Repositories, userID uuid.UUID, code, otpType string) (bool, error) {
	otp, err := r.OTPs.GetActive(ctx, userID, otpType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load active code: %w", err)
	}

	if otp.ExpiresAt.Before(s.now().UTC()) {
		return false, nil
	}

	ok, err := s.vault.Verify(code, otp.CodeHash, otp.Salt)
	if err != nil || !ok {
		return false, err
	}

	if err := r.OTPs.MarkUsed(ctx, otp.ID); err != nil {
		return false, fmt.Errorf("failed to consume code: %w", err)
	}

	actor := map[string]any{"id": userID}
	entity := map[string]any{"otp_type": otpType}
	if err := s.audits.Record(ctx, r, "otp.verify", actor, entity, models.AuditStatusSuccess); err != nil {
		return false, err
	}

	return true, nil
}
