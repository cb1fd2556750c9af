package roles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/meridian/internal/platform/db"
	"github.com/meridianhq/meridian/internal/shared"
)

// Repository provides PostgreSQL backed persistence for roles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, name, scope, company_id, priority, is_system_role, base_role_id, created_at, updated_at, deleted_at`

// GetRole fetches a non-deleted role by id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1 AND deleted_at IS NULL`, id)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.NotFoundError("role %d not found", id)
	}
	return role, err
}

// ListRoles returns the platform roles plus, when companyID is non-nil,
// the company's own roles.
func (r *Repository) ListRoles(ctx context.Context, companyID *int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles
WHERE deleted_at IS NULL AND (company_id IS NULL OR company_id = $1)
ORDER BY priority, id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// CreateRole inserts a role.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO roles (name, scope, company_id, priority, is_system_role, base_role_id)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+roleColumns,
		role.Name, role.Scope, role.CompanyID, role.Priority, role.IsSystemRole, role.BaseRoleID)
	created, err := scanRole(row)
	if isUniqueViolation(err) {
		return Role{}, shared.ConflictError("role %q already exists", role.Name)
	}
	return created, err
}

// UpdateRole updates name and priority of an existing role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name string, priority int) (Role, error) {
	row := r.pool.QueryRow(ctx, `UPDATE roles SET name = $2, priority = $3, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL RETURNING `+roleColumns, id, name, priority)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.NotFoundError("role %d not found", id)
	}
	if isUniqueViolation(err) {
		return Role{}, shared.ConflictError("role %q already exists", name)
	}
	return role, err
}

// SoftDeleteRole marks the role deleted.
func (r *Repository) SoftDeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundError("role %d not found", id)
	}
	return nil
}

// CountUsersWithRole counts active users referencing the role.
func (r *Repository) CountUsersWithRole(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role_id = $1 AND deleted_at IS NULL`, roleID).Scan(&count)
	return count, err
}

// PermissionIDsForRole returns the role's directly granted permission ids.
func (r *Repository) PermissionIDsForRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GrantPermission attaches a permission to a role. Granting an already
// granted permission is a no-op.
func (r *Repository) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
VALUES ($1, $2) ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID)
	return err
}

// RevokePermission detaches a permission from a role.
func (r *Repository) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

// ReplacePermissions swaps the role's whole grant set in one transaction.
func (r *Repository) ReplacePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, permissionID := range permissionIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
VALUES ($1, $2) ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID); err != nil {
				return err
			}
		}
		return nil
	})
}

// CloneRole creates a new role and copies the base role's permission rows
// in one transaction.
func (r *Repository) CloneRole(ctx context.Context, role Role, baseRoleID int64) (Role, error) {
	var created Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO roles (name, scope, company_id, priority, is_system_role, base_role_id)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+roleColumns,
			role.Name, role.Scope, role.CompanyID, role.Priority, role.IsSystemRole, role.BaseRoleID)
		var err error
		created, err = scanRole(row)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
SELECT $1, permission_id FROM role_permissions WHERE role_id = $2`, created.ID, baseRoleID)
		return err
	})
	if isUniqueViolation(err) {
		return Role{}, shared.ConflictError("role %q already exists", role.Name)
	}
	if err != nil {
		return Role{}, err
	}
	return created, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Scope, &role.CompanyID, &role.Priority, &role.IsSystemRole, &role.BaseRoleID, &role.CreatedAt, &role.UpdatedAt, &role.DeletedAt)
	return role, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
