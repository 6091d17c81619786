// Package memory is an in-process repository.Store used by tests and local
// development. WithinTx runs the callback against the same state without
// rollback; callers that need rollback semantics exercise the postgres store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kmulambia/qgen-engine/internal/models"
	"github.com/kmulambia/qgen-engine/internal/repository"
)

type Store struct {
	mu sync.Mutex

	users           []*models.User
	workspaces      []*models.Workspace
	roles           []*models.Role
	rolePermissions map[uuid.UUID][]string
	userWorkspaces  []*models.UserWorkspace
	credentials     []*models.Credential
	userCredentials []*models.UserCredential
	tokens          []*models.SessionToken
	otps            []*models.OTP
	audits          []*models.AuditRecord
}

func NewStore() *Store {
	return &Store{rolePermissions: map[uuid.UUID][]string{}}
}

func (s *Store) WithinTx(_ context.Context, fn func(r repository.Repositories) error) error {
	return fn(s.Repositories())
}

func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Users:       &userRepo{s},
		Workspaces:  &workspaceRepo{s},
		Credentials: &credentialRepo{s},
		Tokens:      &tokenRepo{s},
		OTPs:        &otpRepo{s},
		Audits:      &auditRepo{s},
	}
}

func (s *Store) Close() {}

// Seed helpers.

func (s *Store) SeedWorkspace(w *models.Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces = append(s.workspaces, w)
}

func (s *Store) SeedRole(r *models.Role, permissions ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = append(s.roles, r)
	s.rolePermissions[r.ID] = permissions
}

func (s *Store) SeedUserWorkspace(uw *models.UserWorkspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userWorkspaces = append(s.userWorkspaces, uw)
}

// Inspection helpers for assertions.

func (s *Store) AuditRecords() []*models.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AuditRecord, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *Store) SessionTokens() []*models.SessionToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.SessionToken, len(s.tokens))
	copy(out, s.tokens)
	return out
}

func (s *Store) UserCredentials() []*models.UserCredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.UserCredential, len(s.userCredentials))
	copy(out, s.userCredentials)
	return out
}

func (s *Store) OTPs() []*models.OTP {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.OTP, len(s.otps))
	copy(out, s.otps)
	return out
}

// ---- users ----

type userRepo struct{ s *Store }

func (r *userRepo) Create(_ context.Context, user *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	clone := *user
	r.s.users = append(r.s.users, &clone)
	return user, nil
}

func (r *userRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.ID == id {
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ---- workspaces ----

type workspaceRepo struct{ s *Store }

func (r *workspaceRepo) GetWorkspaceByName(_ context.Context, name string) (*models.Workspace, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.workspaces {
		if w.Name == name {
			clone := *w
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *workspaceRepo) GetRole(_ context.Context, id uuid.UUID) (*models.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, role := range r.s.roles {
		if role.ID == id {
			clone := *role
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *workspaceRepo) GetRoleByName(_ context.Context, name string) (*models.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, role := range r.s.roles {
		if role.Name == name {
			clone := *role
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *workspaceRepo) GetUserWorkspace(_ context.Context, userID, workspaceID uuid.UUID) (*models.UserWorkspace, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, uw := range r.s.userWorkspaces {
		if uw.UserID == userID && uw.WorkspaceID == workspaceID {
			clone := *uw
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *workspaceRepo) GetDefaultUserWorkspace(_ context.Context, userID uuid.UUID) (*models.UserWorkspace, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, uw := range r.s.userWorkspaces {
		if uw.UserID == userID && uw.IsDefault && uw.Status == models.StatusActive {
			clone := *uw
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *workspaceRepo) ListUserWorkspaces(_ context.Context, userID uuid.UUID) ([]models.UserWorkspace, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.UserWorkspace
	for _, uw := range r.s.userWorkspaces {
		if uw.UserID == userID && uw.Status == models.StatusActive {
			out = append(out, *uw)
		}
	}
	return out, nil
}

func (r *workspaceRepo) ListRolePermissions(_ context.Context, roleID uuid.UUID) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	permissions := append([]string(nil), r.s.rolePermissions[roleID]...)
	sort.Strings(permissions)
	return permissions, nil
}

func (r *workspaceRepo) CreateUserWorkspace(_ context.Context, uw *models.UserWorkspace) (*models.UserWorkspace, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	clone := *uw
	r.s.userWorkspaces = append(r.s.userWorkspaces, &clone)
	return uw, nil
}

// ---- credentials ----

type credentialRepo struct{ s *Store }

func (r *credentialRepo) CreateCredential(_ context.Context, credential *models.Credential) (*models.Credential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	clone := *credential
	r.s.credentials = append(r.s.credentials, &clone)
	return credential, nil
}

func (r *credentialRepo) GetCredential(_ context.Context, id uuid.UUID) (*models.Credential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.credentials {
		if c.ID == id {
			clone := *c
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *credentialRepo) CreateUserCredential(_ context.Context, link *models.UserCredential) (*models.UserCredential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	clone := *link
	r.s.userCredentials = append(r.s.userCredentials, &clone)
	return link, nil
}

func (r *credentialRepo) GetActiveUserCredential(_ context.Context, userID uuid.UUID) (*models.UserCredential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *models.UserCredential
	for _, link := range r.s.userCredentials {
		if link.UserID == userID && link.Status == models.StatusActive {
			if latest == nil || link.CreatedAt.After(latest.CreatedAt) {
				latest = link
			}
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (r *credentialRepo) DeactivateUserCredentials(_ context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, link := range r.s.userCredentials {
		if link.UserID == userID && link.Status == models.StatusActive {
			link.Status = models.StatusInactive
		}
	}
	return nil
}

// ---- tokens ----

type tokenRepo struct{ s *Store }

func (r *tokenRepo) Create(_ context.Context, token *models.SessionToken) (*models.SessionToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	clone := *token
	r.s.tokens = append(r.s.tokens, &clone)
	return token, nil
}

func (r *tokenRepo) GetLatestByUserID(_ context.Context, userID uuid.UUID) (*models.SessionToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *models.SessionToken
	for _, t := range r.s.tokens {
		if t.UserID == userID {
			if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
				latest = t
			}
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (r *tokenRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.ID == id {
			t.Status = status
			return nil
		}
	}
	return repository.ErrNotFound
}

// ---- otp ----

type otpRepo struct{ s *Store }

func (r *otpRepo) Create(_ context.Context, otp *models.OTP) (*models.OTP, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	clone := *otp
	r.s.otps = append(r.s.otps, &clone)
	return otp, nil
}

func (r *otpRepo) GetActive(_ context.Context, userID uuid.UUID, otpType string) (*models.OTP, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *models.OTP
	for _, o := range r.s.otps {
		if o.UserID == userID && o.OTPType == otpType && !o.IsUsed {
			if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
				latest = o
			}
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (r *otpRepo) MarkUsed(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.otps {
		if o.ID == id {
			o.IsUsed = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *otpRepo) DeactivateAll(_ context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.otps {
		if o.UserID == userID {
			o.IsUsed = true
		}
	}
	return nil
}

// ---- audits ----

type auditRepo struct{ s *Store }

func (r *auditRepo) Create(_ context.Context, record *models.AuditRecord) (*models.AuditRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	clone := *record
	r.s.audits = append(r.s.audits, &clone)
	return record, nil
}
