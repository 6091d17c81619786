package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kmulambia/qgen-engine/internal/models"
	"github.com/kmulambia/qgen-engine/internal/repository"
	"github.com/kmulambia/qgen-engine/internal/token"
)

// SessionClaims is the decoded identity carried by a session token.
type SessionClaims struct {
	UserID      uuid.UUID
	FirstName   string
	LastName    string
	Email       string
	RoleID      uuid.UUID
	WorkspaceID uuid.UUID
	ExpiresAt   time.Time
}

// TokenService issues session tokens and verifies presented ones. Token rows
// expire lazily: nothing sweeps the table, a row flips to expired the first
// time its token is presented past the deadline.
type TokenService struct {
	codec *token.Codec
	now   func() time.Time
}

func NewTokenService(codec *token.Codec) *TokenService {
	return &TokenService{codec: codec, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// Issue signs a token for the user in the given workspace and persists the
// session row. Multiple concurrent sessions per user are allowed.
func (s *TokenService) Issue(ctx context.Context, r repository.Repositories, user *models.User, roleID, workspaceID uuid.UUID, ip, userAgent string) (*models.SessionToken, error) {
	claims := map[string]any{
		"user_id":      user.ID,
		"first_name":   user.FirstName,
		"last_name":    user.LastName,
		"email":        user.Email,
		"role_id":      roleID,
		"workspace_id": workspaceID,
	}

	signed, expiresAt, err := s.codec.Encode(claims, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	row := &models.SessionToken{
		ID:            uuid.New(),
		JWT:           signed,
		UserID:        user.ID,
		TokenType:     models.TokenTypeBearer,
		ExpiresAt:     expiresAt,
		LastIPAddress: ip,
		UserAgent:     userAgent,
		Status:        models.StatusActive,
		CreatedAt:     s.now().UTC(),
	}
	if _, err := r.Tokens.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	return row, nil
}

// Verify decodes the token and checks its payload expiry. An expired token
// flips the user's latest session row to expired before returning
// ErrTokenExpired; a token with no backing row returns ErrTokenNotFound.
func (s *TokenService) Verify(ctx context.Context, r repository.Repositories, jwtToken string) (*SessionClaims, error) {
	raw, err := s.codec.Decode(jwtToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, err := parseSessionClaims(raw)
	if err != nil {
		return nil, err
	}

	if claims.ExpiresAt.Before(s.now()) {
		row, err := r.Tokens.GetLatestByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrTokenNotFound
			}
			return nil, fmt.Errorf("failed to load token row: %w", err)
		}
		if row.Status == models.StatusActive {
			if err := r.Tokens.UpdateStatus(ctx, row.ID, models.StatusExpired); err != nil {
				return nil, fmt.Errorf("failed to expire token row: %w", err)
			}
		}
		return nil, ErrTokenExpired
	}

	return claims, nil
}

func parseSessionClaims(raw map[string]any) (*SessionClaims, error) {
	expiresAt, err := token.ExpiresAt(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}

	userID, err := claimUUID(raw, "user_id")
	if err != nil {
		return nil, err
	}
	roleID, err := claimUUID(raw, "role_id")
	if err != nil {
		return nil, err
	}
	workspaceID, err := claimUUID(raw, "workspace_id")
	if err != nil {
		return nil, err
	}

	return &SessionClaims{
		UserID:      userID,
		FirstName:   claimString(raw, "first_name"),
		LastName:    claimString(raw, "last_name"),
		Email:       claimString(raw, "email"),
		RoleID:      roleID,
		WorkspaceID: workspaceID,
		ExpiresAt:   expiresAt,
	}, nil
}

func claimUUID(raw map[string]any, key string) (uuid.UUID, error) {
	value, ok := raw[key].(string)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

func claimString(raw map[string]any, key string) string {
	value, _ := raw[key].(string)
	return value
}
