package overrides

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/meridian/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for overrides.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const overrideColumns = `id, user_id, permission_id, effect, reason, granted_by_user_id, expires_at, created_at, updated_at`

// GetActive returns the unexpired override for (user, permission), if any.
func (r *Repository) GetActive(ctx context.Context, userID, permissionID int64) (Override, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+overrideColumns+` FROM user_permission_overrides
WHERE user_id = $1 AND permission_id = $2 AND (expires_at IS NULL OR expires_at > NOW())`, userID, permissionID)
	o, err := scanOverride(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Override{}, false, nil
	}
	if err != nil {
		return Override{}, false, err
	}
	return o, true, nil
}

// Exists reports whether any row exists for the pair, expired or not. An
// existing pair makes a create an update, which the cap does not apply to.
func (r *Repository) Exists(ctx context.Context, userID, permissionID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_permission_overrides
WHERE user_id = $1 AND permission_id = $2)`, userID, permissionID).Scan(&exists)
	return exists, err
}

// ListActiveForUser returns all unexpired overrides for a user.
func (r *Repository) ListActiveForUser(ctx context.Context, userID int64) ([]Override, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+overrideColumns+` FROM user_permission_overrides
WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > NOW()) ORDER BY permission_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountActiveForUser counts unexpired overrides for a user.
func (r *Repository) CountActiveForUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_permission_overrides
WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > NOW())`, userID).Scan(&count)
	return count, err
}

// Upsert writes the override, updating the existing (user, permission) row
// in place when one exists. Two concurrent grants for the same pair resolve
// through the unique constraint: one inserts, the other updates.
func (r *Repository) Upsert(ctx context.Context, o Override) (Override, error) {
	row := r.pool.QueryRow(ctx, upsertSQL,
		o.UserID, o.PermissionID, o.Effect, o.Reason, o.GrantedByUserID, o.ExpiresAt)
	return scanOverride(row)
}

// BulkUpsert writes multiple overrides in one transaction: the whole
// cascade closure commits or none of it does.
func (r *Repository) BulkUpsert(ctx context.Context, os []Override) ([]Override, error) {
	out := make([]Override, 0, len(os))
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, o := range os {
			row := tx.QueryRow(ctx, upsertSQL,
				o.UserID, o.PermissionID, o.Effect, o.Reason, o.GrantedByUserID, o.ExpiresAt)
			saved, err := scanOverride(row)
			if err != nil {
				return err
			}
			out = append(out, saved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the override for the pair.
func (r *Repository) Delete(ctx context.Context, userID, permissionID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_permission_overrides
WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired removes rows whose expiry has passed. Expiry is otherwise
// lazy (filtered at read time); this is on-demand hygiene.
func (r *Repository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_permission_overrides
WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const upsertSQL = `INSERT INTO user_permission_overrides
(user_id, permission_id, effect, reason, granted_by_user_id, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, permission_id)
DO UPDATE SET effect = EXCLUDED.effect, reason = EXCLUDED.reason,
  granted_by_user_id = EXCLUDED.granted_by_user_id, expires_at = EXCLUDED.expires_at,
  updated_at = NOW()
RETURNING ` + overrideColumns

func scanOverride(row pgx.Row) (Override, error) {
	var o Override
	err := row.Scan(&o.ID, &o.UserID, &o.PermissionID, &o.Effect, &o.Reason, &o.GrantedByUserID, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}
