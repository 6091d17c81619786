// Package repository defines the storage interfaces the services operate on
// and the transaction boundary they run inside.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kmulambia/qgen-engine/internal/models"
)

// ErrNotFound is returned by all repositories when a row does not exist.
var ErrNotFound = errors.New("record not found")

// Repositories bundles every repository bound to the same database handle,
// either the connection pool or one open transaction.
type Repositories struct {
	Users       UserRepository
	Workspaces  WorkspaceRepository
	Credentials CredentialRepository
	Tokens      TokenRepository
	OTPs        OTPRepository
	Audits      AuditRepository
}

// Store is the relational transaction boundary. WithinTx commits only when fn
// returns nil and rolls everything back otherwise, which is what makes audit
// writes atomic with the operation they describe.
type Store interface {
	WithinTx(ctx context.Context, fn func(r Repositories) error) error
	Repositories() Repositories
	Close()
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type WorkspaceRepository interface {
	GetWorkspaceByName(ctx context.Context, name string) (*models.Workspace, error)
	GetRole(ctx context.Context, id uuid.UUID) (*models.Role, error)
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)
	GetUserWorkspace(ctx context.Context, userID, workspaceID uuid.UUID) (*models.UserWorkspace, error)
	GetDefaultUserWorkspace(ctx context.Context, userID uuid.UUID) (*models.UserWorkspace, error)
	ListUserWorkspaces(ctx context.Context, userID uuid.UUID) ([]models.UserWorkspace, error)
	ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]string, error)
	CreateUserWorkspace(ctx context.Context, uw *models.UserWorkspace) (*models.UserWorkspace, error)
}

type CredentialRepository interface {
	CreateCredential(ctx context.Context, credential *models.Credential) (*models.Credential, error)
	GetCredential(ctx context.Context, id uuid.UUID) (*models.Credential, error)
	CreateUserCredential(ctx context.Context, link *models.UserCredential) (*models.UserCredential, error)
	// GetActiveUserCredential returns the single active link for the user.
	GetActiveUserCredential(ctx context.Context, userID uuid.UUID) (*models.UserCredential, error)
	// DeactivateUserCredentials marks every active link for the user inactive.
	DeactivateUserCredentials(ctx context.Context, userID uuid.UUID) error
}

type TokenRepository interface {
	Create(ctx context.Context, token *models.SessionToken) (*models.SessionToken, error)
	// GetLatestByUserID returns the most recently created token row for the
	// user, regardless of status.
	GetLatestByUserID(ctx context.Context, userID uuid.UUID) (*models.SessionToken, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type OTPRepository interface {
	Create(ctx context.Context, otp *models.OTP) (*models.OTP, error)
	// GetActive returns the latest non-used OTP for (user, type). Expiry is
	// evaluated by the caller against the clock, not here.
	GetActive(ctx context.Context, userID uuid.UUID, otpType string) (*models.OTP, error)
	MarkUsed(ctx context.Context, id uuid.UUID) error
	// DeactivateAll marks every OTP for the user used.
	DeactivateAll(ctx context.Context, userID uuid.UUID) error
}

type AuditRepository interface {
	Create(ctx context.Context, record *models.AuditRecord) (*models.AuditRecord, error)
}
