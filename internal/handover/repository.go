package handover

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/meridian/internal/shared"
)

// Repository persists handovers in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Repository backed by the pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const handoverColumns = `id, manager_id, backup_id, status, reason, requested_by,
accepted_at, accepted_by, ended_at, created_at, updated_at`

// Get returns the handover by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Handover, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+handoverColumns+` FROM handovers WHERE id=$1`, id)
	h, err := scanHandover(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Handover{}, shared.NotFoundError("handover %s not found", id)
	}
	return h, err
}

// Create inserts a new handover in the given status.
func (r *Repository) Create(ctx context.Context, h Handover) (Handover, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO handovers
(id, manager_id, backup_id, status, reason, requested_by, accepted_at, accepted_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+handoverColumns,
		h.ID, h.ManagerID, h.BackupID, h.Status, h.Reason, h.RequestedBy, h.AcceptedAt, h.AcceptedBy)
	return scanHandover(row)
}

// Transition moves the handover from one status to another in a single
// conditional update, so two racing transitions cannot both succeed. The
// returned bool is false when the row was not in the expected status.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from, to Status, acceptedBy *int64, acceptedAt, endedAt *time.Time) (Handover, bool, error) {
	row := r.pool.QueryRow(ctx, `UPDATE handovers
SET status=$3,
    accepted_by=COALESCE($4, accepted_by),
    accepted_at=COALESCE($5, accepted_at),
    ended_at=COALESCE($6, ended_at),
    updated_at=NOW()
WHERE id=$1 AND status=$2
RETURNING `+handoverColumns,
		id, from, to, acceptedBy, acceptedAt, endedAt)
	h, err := scanHandover(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Handover{}, false, nil
	}
	return h, err == nil, err
}

// ListForManager returns handovers where the user is the original manager.
func (r *Repository) ListForManager(ctx context.Context, managerID int64) ([]Handover, error) {
	return r.list(ctx, `SELECT `+handoverColumns+` FROM handovers WHERE manager_id=$1 ORDER BY created_at DESC`, managerID)
}

// ListForBackup returns handovers where the user is the backup manager.
func (r *Repository) ListForBackup(ctx context.Context, backupID int64) ([]Handover, error) {
	return r.list(ctx, `SELECT `+handoverColumns+` FROM handovers WHERE backup_id=$1 ORDER BY created_at DESC`, backupID)
}

// HasActiveBetween reports whether an active handover already delegates the
// manager's tickets to the backup.
func (r *Repository) HasActiveBetween(ctx context.Context, managerID, backupID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM handovers WHERE manager_id=$1 AND backup_id=$2 AND status IN ($3, $4))`,
		managerID, backupID, StatusPending, StatusActive).Scan(&exists)
	return exists, err
}

// VisibleManagerIDs returns the manager ids whose tickets the user may read:
// always the user's own id, plus every manager with an active handover
// naming the user as backup. Ticket queries join against this set.
func (r *Repository) VisibleManagerIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT $1::bigint
UNION
SELECT manager_id FROM handovers WHERE backup_id=$1 AND status=$2`, userID, StatusActive)
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

func (r *Repository) list(ctx context.Context, sql string, args ...any) ([]Handover, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Handover
	for rows.Next() {
		h, err := scanHandover(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanHandover(row pgx.Row) (Handover, error) {
	var h Handover
	err := row.Scan(&h.ID, &h.ManagerID, &h.BackupID, &h.Status, &h.Reason, &h.RequestedBy,
		&h.AcceptedAt, &h.AcceptedBy, &h.EndedAt, &h.CreatedAt, &h.UpdatedAt)
	return h, err
}
