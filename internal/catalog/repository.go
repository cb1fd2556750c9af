package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/meridian/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const moduleColumns = `id, key, name, parent_module_id, is_free_for_all, price, created_at, updated_at, deleted_at`

const permissionColumns = `id, module_id, key, action, name, is_free_for_all, is_subscription_exempt, is_system_permission, price, created_at, updated_at, deleted_at`

// ListModules returns all non-deleted modules.
func (r *Repository) ListModules(ctx context.Context) ([]Module, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+moduleColumns+` FROM modules WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var modules []Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// GetModule fetches a non-deleted module by id.
func (r *Repository) GetModule(ctx context.Context, id int64) (Module, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id = $1 AND deleted_at IS NULL`, id)
	m, err := scanModule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Module{}, shared.NotFoundError("module %d not found", id)
	}
	return m, err
}

// CreateModule inserts a module.
func (r *Repository) CreateModule(ctx context.Context, m Module) (Module, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO modules (key, name, parent_module_id, is_free_for_all, price)
VALUES ($1, $2, $3, $4, $5) RETURNING `+moduleColumns,
		m.Key, m.Name, m.ParentModuleID, m.IsFreeForAll, m.Price)
	created, err := scanModule(row)
	if isUniqueViolation(err) {
		return Module{}, shared.ConflictError("module %q already exists", m.Key)
	}
	return created, err
}

// ListPermissions returns all non-deleted permissions.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetPermission fetches a non-deleted permission by id.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1 AND deleted_at IS NULL`, id)
	p, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.NotFoundError("permission %d not found", id)
	}
	return p, err
}

// GetPermissionByKey fetches a non-deleted permission by key.
func (r *Repository) GetPermissionByKey(ctx context.Context, key string) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE key = $1 AND deleted_at IS NULL`, key)
	p, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.NotFoundError("permission %q not found", key)
	}
	return p, err
}

// CreatePermission inserts a permission.
func (r *Repository) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO permissions (module_id, key, action, name, is_free_for_all, is_subscription_exempt, is_system_permission, price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+permissionColumns,
		p.ModuleID, p.Key, p.Action, p.Name, p.IsFreeForAll, p.IsSubscriptionExempt, p.IsSystemPermission, p.Price)
	created, err := scanPermission(row)
	if isUniqueViolation(err) {
		return Permission{}, shared.ConflictError("permission %q already exists", p.Key)
	}
	return created, err
}

func scanModule(row pgx.Row) (Module, error) {
	var m Module
	err := row.Scan(&m.ID, &m.Key, &m.Name, &m.ParentModuleID, &m.IsFreeForAll, &m.Price, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	return m, err
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.ModuleID, &p.Key, &p.Action, &p.Name, &p.IsFreeForAll, &p.IsSubscriptionExempt, &p.IsSystemPermission, &p.Price, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	return p, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
