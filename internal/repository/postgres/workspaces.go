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

type WorkspaceRepository struct {
	db DBTX
}

func (r *WorkspaceRepository) GetWorkspaceByName(ctx context.Context, name string) (*models.Workspace, error) {
	query := `SELECT id, name, status, created_at FROM workspaces WHERE name = $1`

	workspace := &models.Workspace{}
	err := r.db.QueryRow(ctx, query, name).Scan(
		&workspace.ID, &workspace.Name, &workspace.Status, &workspace.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return workspace, nil
}

func (r *WorkspaceRepository) GetRole(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	query := `SELECT id, name, status, created_at FROM roles WHERE id = $1`
	return r.scanRole(r.db.QueryRow(ctx, query, id))
}

func (r *WorkspaceRepository) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	query := `SELECT id, name, status, created_at FROM roles WHERE name = $1`
	return r.scanRole(r.db.QueryRow(ctx, query, name))
}

func (r *WorkspaceRepository) scanRole(row pgx.Row) (*models.Role, error) {
	role := &models.Role{}
	err := row.Scan(&role.ID, &role.Name, &role.Status, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return role, nil
}

func (r *WorkspaceRepository) GetUserWorkspace(ctx context.Context, userID, workspaceID uuid.UUID) (*models.UserWorkspace, error) {
	query := `
		SELECT id, user_id, workspace_id, role_id, is_default, status, created_at
		FROM user_workspaces
		WHERE user_id = $1 AND workspace_id = $2`

	return r.scanUserWorkspace(r.db.QueryRow(ctx, query, userID, workspaceID))
}

func (r *WorkspaceRepository) GetDefaultUserWorkspace(ctx context.Context, userID uuid.UUID) (*models.UserWorkspace, error) {
	query := `
		SELECT id, user_id, workspace_id, role_id, is_default, status, created_at
		FROM user_workspaces
		WHERE user_id = $1 AND is_default = true AND status = 'active'
		ORDER BY created_at
		LIMIT 1`

	return r.scanUserWorkspace(r.db.QueryRow(ctx, query, userID))
}

func (r *WorkspaceRepository) scanUserWorkspace(row pgx.Row) (*models.UserWorkspace, error) {
	uw := &models.UserWorkspace{}
	err := row.Scan(&uw.ID, &uw.UserID, &uw.WorkspaceID, &uw.RoleID,
		&uw.IsDefault, &uw.Status, &uw.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return uw, nil
}

func (r *WorkspaceRepository) ListUserWorkspaces(ctx context.Context, userID uuid.UUID) ([]models.UserWorkspace, error) {
	query := `
		SELECT id, user_id, workspace_id, role_id, is_default, status, created_at
		FROM user_workspaces
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var memberships []models.UserWorkspace
	for rows.Next() {
		var uw models.UserWorkspace
		if err := rows.Scan(&uw.ID, &uw.UserID, &uw.WorkspaceID, &uw.RoleID,
			&uw.IsDefault, &uw.Status, &uw.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		memberships = append(memberships, uw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return memberships, nil
}

func (r *WorkspaceRepository) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	query := `
		SELECT permission
		FROM role_permissions
		WHERE role_id = $1 AND status = 'active'
		ORDER BY permission`

	rows, err := r.db.Query(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var permissions []string
	for rows.Next() {
		var permission string
		if err := rows.Scan(&permission); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		permissions = append(permissions, permission)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return permissions, nil
}

func (r *WorkspaceRepository) CreateUserWorkspace(ctx context.Context, uw *models.UserWorkspace) (*models.UserWorkspace, error) {
	query := `
		INSERT INTO user_workspaces (id, user_id, workspace_id, role_id, is_default, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		uw.ID, uw.UserID, uw.WorkspaceID, uw.RoleID, uw.IsDefault, uw.Status, uw.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return uw, nil
}
