package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kmulambia/qgen-engine/internal/models"
	"github.com/kmulambia/qgen-engine/internal/notify"
	"github.com/kmulambia/qgen-engine/internal/repository"
	"github.com/kmulambia/qgen-engine/internal/util"
)

// Default role and workspace granted to self-registered users.
const (
	DefaultRoleName      = "User"
	DefaultWorkspaceName = "Default"
)

// LoginResult is everything a successful login hands back to the transport
// layer.
type LoginResult struct {
	Token       *models.SessionToken
	User        *models.User
	RoleID      uuid.UUID
	WorkspaceID uuid.UUID
	Permissions []string
}

// RegisterInput is the self-registration payload.
type RegisterInput struct {
	FirstName string
	LastName  string
	Phone     string
	Email     string
	Password  string
}

// AuthService orchestrates the authentication use cases. Each one runs inside
// a single store transaction so its writes, audit row included, commit or
// roll back as a unit. Failed attempts are audited after rollback on a fresh
// repository set.
type AuthService struct {
	store       repository.Store
	credentials *CredentialService
	tokens      *TokenService
	otps        *OTPService
	audits      *AuditService
	mailer      notify.Mailer
	now         func() time.Time
}

func NewAuthService(
	store repository.Store,
	credentials *CredentialService,
	tokens *TokenService,
	otps *OTPService,
	audits *AuditService,
	mailer notify.Mailer,
) *AuthService {
	return &AuthService{
		store:       store,
		credentials: credentials,
		tokens:      tokens,
		otps:        otps,
		audits:      audits,
		mailer:      mailer,
		now:         time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// Login authenticates by email and password and issues a session token bound
// to a workspace membership. When workspaceID is nil the user's default
// membership is used. Any failure past the user lookup leaves a failed
// user.login audit; the password itself never reaches a log or audit row.
func (s *AuthService) Login(ctx context.Context, email, password string, workspaceID *uuid.UUID, ip, userAgent string) (*LoginResult, error) {
	var result *LoginResult
	var attempted *models.User

	err := s.store.WithinTx(ctx, func(r repository.Repositories) error {
		user, err := r.Users.GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to load user: %w", err)
		}
		attempted = user

		if user.Status != models.StatusActive {
			return ErrUserNotActive
		}

		ok, err := s.credentials.VerifyPassword(ctx, r, user.ID, password)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidCredentials
		}

		var membership *models.UserWorkspace
		if workspaceID != nil {
			membership, err = r.Workspaces.GetUserWorkspace(ctx, user.ID, *workspaceID)
		} else {
			membership, err = r.Workspaces.GetDefaultUserWorkspace(ctx, user.ID)
		}
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrInvalidCredentials
			}
			return fmt.Errorf("failed to load membership: %w", err)
		}
		if membership.Status != models.StatusActive {
			return ErrInvalidCredentials
		}

		permissions, err := r.Workspaces.ListRolePermissions(ctx, membership.RoleID)
		if err != nil {
			return fmt.Errorf("failed to load permissions: %w", err)
		}

		tokenRow, err := s.tokens.Issue(ctx, r, user, membership.RoleID, membership.WorkspaceID, ip, userAgent)
		if err != nil {
			return err
		}

		actor := map[string]any{"id": user.ID, "email": user.Email}
		entity := map[string]any{
			"ip_address":   ip,
			"user_agent":   userAgent,
			"workspace_id": membership.WorkspaceID,
		}
		if err := s.audits.Record(ctx, r, "user.login", actor, entity, models.AuditStatusSuccess); err != nil {
			return err
		}

		result = &LoginResult{
			Token:       tokenRow,
			User:        user,
			RoleID:      membership.RoleID,
			WorkspaceID: membership.WorkspaceID,
			Permissions: permissions,
		}
		return nil
	})
	if err != nil {
		if attempted != nil && IsDomainError(err) {
			s.recordFailure(ctx, "user.login",
				map[string]any{"id": attempted.ID, "email": attempted.Email},
				map[string]any{"ip_address": ip, "user_agent": userAgent})
		}
		return nil, err
	}

	return result, nil
}

// ChangePassword rotates the target user's credential. An actor changing
// another user's password is recorded under a separate audit action.
func (s *AuthService) ChangePassword(ctx context.Context, actorID, targetUserID uuid.UUID, newPassword string) error {
	var target *models.User

	err := s.store.WithinTx(ctx, func(r repository.Repositories) error {
		user, err := r.Users.GetByID(ctx, targetUserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to load user: %w", err)
		}
		target = user

		if err := s.credentials.Rotate(ctx, r, user.ID, newPassword); err != nil {
			return err
		}

		action := "user.password_change"
		if actorID != targetUserID {
			action = "user.password_change_by_admin"
		}
		actor := map[string]any{"id": actorID}
		entity := map[string]any{"user_id": user.ID, "email": user.Email}
		return s.audits.Record(ctx, r, action, actor, entity, models.AuditStatusSuccess)
	})
	if err != nil {
		if target != nil && IsDomainError(err) {
			s.recordFailure(ctx, "user.password_change",
				map[string]any{"id": actorID},
				map[string]any{"user_id": targetUserID})
		}
		return err
	}

	s.send(ctx, notify.Message{Template: notify.Template{
		Name: "password_change",
		Data: map[string]any{"email": target.Email, "first_name": target.FirstName},
	}})
	return nil
}

// RequestOTP generates a one-time code for the user and hands it to the
// mailer. The plaintext code leaves the core exactly here.
func (s *AuthService) RequestOTP(ctx context.Context, email, otpType, ip, userAgent string) error {
	var attempted *models.User
	var code string

	err := s.store.WithinTx(ctx, func(r repository.Repositories) error {
		user, err := r.Users.GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to load user: %w", err)
		}
		attempted = user

		if user.Status != models.StatusActive {
			return ErrUserNotActive
		}

		_, plaintext, err := s.otps.Generate(ctx, r, user, otpType)
		if err != nil {
			return err
		}
		code = plaintext
		return nil
	})
	if err != nil {
		if attempted != nil && IsDomainError(err) {
			s.recordFailure(ctx, "otp.request."+otpType,
				map[string]any{"id": attempted.ID, "email": attempted.Email},
				map[string]any{"ip_address": ip, "user_agent": userAgent})
		}
		return err
	}

	s.send(ctx, notify.Message{Template: notify.Template{
		Name: notify.TemplateOTP,
		Data: map[string]any{
			"email":      attempted.Email,
			"first_name": attempted.FirstName,
			"code":       code,
			"otp_type":   otpType,
		},
	}})
	return nil
}

// ResetPassword consumes a one-time code and rotates the user's credential.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword, ip, userAgent string) error {
	var attempted *models.User

	err := s.store.WithinTx(ctx, func(r repository.Repositories) error {
		user, err := r.Users.GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to load user: %w", err)
		}
		attempted = user

		ok, err := s.otps.Verify(ctx, r, user.ID, code, models.OTPTypePasswordReset)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidOTP
		}

		if err := s.credentials.Rotate(ctx, r, user.ID, newPassword); err != nil {
			return err
		}

		actor := map[string]any{"id": user.ID, "email": user.Email}
		entity := map[string]any{"ip_address": ip, "user_agent": userAgent}
		return s.audits.Record(ctx, r, "user.password_reset", actor, entity, models.AuditStatusSuccess)
	})
	if err != nil {
		if attempted != nil && IsDomainError(err) {
			s.recordFailure(ctx, "user.password_reset",
				map[string]any{"id": attempted.ID, "email": attempted.Email},
				map[string]any{"ip_address": ip, "user_agent": userAgent})
		}
		return err
	}

	s.send(ctx, notify.Message{Template: notify.Template{
		Name: "password_reset",
		Data: map[string]any{"email": attempted.Email, "first_name": attempted.FirstName},
	}})
	return nil
}

// Register creates a user with an initial credential and a default workspace
// membership under the standard role.
func (s *AuthService) Register(ctx context.Context, input RegisterInput, ip, userAgent string) (*models.User, error) {
	var created *models.User

	err := s.store.WithinTx(ctx, func(r repository.Repositories) error {
		if _, err := r.Users.GetByEmail(ctx, input.Email); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to check email: %w", err)
		}

		role, err := r.Workspaces.GetRoleByName(ctx, DefaultRoleName)
		if err != nil {
			return fmt.Errorf("failed to load default role: %w", err)
		}
		workspace, err := r.Workspaces.GetWorkspaceByName(ctx, DefaultWorkspaceName)
		if err != nil {
			return fmt.Errorf("failed to load default workspace: %w", err)
		}

		now := s.now().UTC()
		user := &models.User{
			ID:        uuid.New(),
			FirstName: input.FirstName,
			LastName:  input.LastName,
			Phone:     input.Phone,
			Email:     input.Email,
			Status:    models.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := r.Users.Create(ctx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		if err := s.credentials.Rotate(ctx, r, user.ID, input.Password); err != nil {
			return err
		}

		membership := &models.UserWorkspace{
			ID:          uuid.New(),
			UserID:      user.ID,
			WorkspaceID: workspace.ID,
			RoleID:      role.ID,
			IsDefault:   true,
			Status:      models.StatusActive,
			CreatedAt:   now,
		}
		if _, err := r.Workspaces.CreateUserWorkspace(ctx, membership); err != nil {
			return fmt.Errorf("failed to create membership: %w", err)
		}

		actor := map[string]any{"id": user.ID, "email": user.Email}
		entity := map[string]any{"ip_address": ip, "user_agent": userAgent}
		if err := s.audits.Record(ctx, r, "user.self_register", actor, entity, models.AuditStatusSuccess); err != nil {
			return err
		}

		created = user
		return nil
	})
	if err != nil {
		if IsDomainError(err) {
			s.recordFailure(ctx, "user.self_register",
				nil,
				map[string]any{"email": input.Email, "ip_address": ip, "user_agent": userAgent})
		}
		return nil, err
	}

	s.send(ctx, notify.Message{Template: notify.Template{
		Name: notify.TemplateWelcome,
		Data: map[string]any{"email": created.Email, "first_name": created.FirstName},
	}})
	return created, nil
}

// VerifyToken is the auth gate for protected routes.
func (s *AuthService) VerifyToken(ctx context.Context, jwtToken string) (*SessionClaims, error) {
	return s.tokens.Verify(ctx, s.store.Repositories(), jwtToken)
}

// recordFailure audits a failed attempt outside the rolled-back transaction,
// so the attempt stays visible even though the operation's writes are gone.
func (s *AuthService) recordFailure(ctx context.Context, action string, actor, entity map[string]any) {
	r := s.store.Repositories()
	if err := s.audits.Record(ctx, r, action, actor, entity, models.AuditStatusFailed); err != nil {
		util.Error("failed to audit failed attempt",
			zap.String("action", action), zap.Error(err))
	}
}

// send hands a message to the mailer. Best effort: by the time we get here the
// use case has committed, so a mail failure is logged, not returned.
func (s *AuthService) send(ctx context.Context, msg notify.Message) {
	if err := s.mailer.Send(ctx, msg); err != nil {
		util.Error("mailer hand-off failed",
			zap.String("template", msg.Template.Name), zap.Error(err))
	}
}
