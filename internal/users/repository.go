package users

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/meridian/internal/roles"
	"github.com/meridianhq/meridian/internal/shared"
)

// Repository provides PostgreSQL backed persistence for users.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, name, role_id, company_id, is_active, password_hash, created_at, updated_at, deleted_at`

// GetUser fetches a non-deleted user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.NotFoundError("user %d not found", id)
	}
	return u, err
}

// GetUserWithRole fetches a user with its role eagerly joined.
func (r *Repository) GetUserWithRole(ctx context.Context, id int64) (WithRole, error) {
	row := r.pool.QueryRow(ctx, `SELECT u.id, u.email, u.name, u.role_id, u.company_id, u.is_active, u.password_hash, u.created_at, u.updated_at, u.deleted_at,
r.id, r.name, r.scope, r.company_id, r.priority, r.is_system_role, r.base_role_id, r.created_at, r.updated_at, r.deleted_at
FROM users u
LEFT JOIN roles r ON r.id = u.role_id AND r.deleted_at IS NULL
WHERE u.id = $1 AND u.deleted_at IS NULL`, id)

	var u User
	var role roles.Role
	var roleID *int64
	var roleName *string
	var roleScope *string
	var roleCompanyID *int64
	var rolePriority *int
	var roleSystem *bool
	var roleBaseID *int64
	var roleCreated, roleUpdated *time.Time
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.RoleID, &u.CompanyID, &u.IsActive, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt,
		&roleID, &roleName, &roleScope, &roleCompanyID, &rolePriority, &roleSystem, &roleBaseID, &roleCreated, &roleUpdated, &role.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return WithRole{}, shared.NotFoundError("user %d not found", id)
	}
	if err != nil {
		return WithRole{}, err
	}
	out := WithRole{User: u}
	if roleID != nil {
		role.ID = *roleID
		role.Name = *roleName
		role.Scope = roles.Scope(*roleScope)
		role.CompanyID = roleCompanyID
		role.Priority = *rolePriority
		role.IsSystemRole = *roleSystem
		role.BaseRoleID = roleBaseID
		if roleCreated != nil {
			role.CreatedAt = *roleCreated
		}
		if roleUpdated != nil {
			role.UpdatedAt = *roleUpdated
		}
		out.Role = &role
	}
	return out, nil
}

// ListUsers returns non-deleted users, optionally scoped to a company.
func (r *Repository) ListUsers(ctx context.Context, companyID *int64) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users
WHERE deleted_at IS NULL AND ($1::bigint IS NULL OR company_id = $1)
ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO users (email, name, role_id, company_id, is_active, password_hash)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+userColumns,
		u.Email, u.Name, u.RoleID, u.CompanyID, u.IsActive, u.PasswordHash)
	created, err := scanUser(row)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return User{}, shared.ConflictError("user %q already exists", u.Email)
	}
	return created, err
}

// SetUserRole updates the user's role pointer.
func (r *Repository) SetUserRole(ctx context.Context, userID int64, roleID *int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundError("user %d not found", userID)
	}
	return nil
}

// SetActive toggles the user's active flag.
func (r *Repository) SetActive(ctx context.Context, userID int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, userID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundError("user %d not found", userID)
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.RoleID, &u.CompanyID, &u.IsActive, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	return u, err
}
