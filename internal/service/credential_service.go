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
)

// CredentialService owns the single-active-credential invariant. Old
// credential rows are kept for history; only the user_credentials link flips.
type CredentialService struct {
	vault *hashing.Vault
	now   func() time.Time
}

func NewCredentialService(vault *hashing.Vault) *CredentialService {
	return &CredentialService{vault: vault, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (s *CredentialService) WithClock(now func() time.Time) *CredentialService {
	s.now = now
	return s
}

// Rotate deactivates every active credential link for the user and installs a
// freshly hashed secret as the new active one. Must run inside a transaction;
// the partial unique index on active links rejects concurrent rotations.
func (s *CredentialService) Rotate(ctx context.Context, r repository.Repositories, userID uuid.UUID, secret string) error {
	hash, salt, err := s.vault.Hash(secret)
	if err != nil {
		return fmt.Errorf("failed to hash credential: %w", err)
	}

	if err := r.Credentials.DeactivateUserCredentials(ctx, userID); err != nil {
		return fmt.Errorf("failed to deactivate credentials: %w", err)
	}

	now := s.now().UTC()
	credential := &models.Credential{
		ID:           uuid.New(),
		PasswordHash: hash,
		Salt:         salt,
		Type:         models.CredentialTypeBearer,
		Status:       models.StatusActive,
		CreatedAt:    now,
	}
	if _, err := r.Credentials.CreateCredential(ctx, credential); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	link := &models.UserCredential{
		ID:           uuid.New(),
		UserID:       userID,
		CredentialID: credential.ID,
		Status:       models.StatusActive,
		CreatedAt:    now,
	}
	if _, err := r.Credentials.CreateUserCredential(ctx, link); err != nil {
		return fmt.Errorf("failed to link credential: %w", err)
	}

	return nil
}

// VerifyPassword checks the secret against the user's active credential. A
// user with no active credential cannot authenticate.
func (s *CredentialService) VerifyPassword(ctx context.Context, r repository.Repositories, userID uuid.UUID, secret string) (bool, error) {
	link, err := r.Credentials.GetActiveUserCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load credential link: %w", err)
	}

	credential, err := r.Credentials.GetCredential(ctx, link.CredentialID)
	if err != nil {
		return false, fmt.Errorf("failed to load credential: %w", err)
	}

	ok, err := s.vault.Verify(secret, credential.PasswordHash, credential.Salt)
	if err != nil {
		return false, fmt.Errorf("failed to verify credential: %w", err)
	}
	return ok, nil
}
