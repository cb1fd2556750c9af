package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TimelineEntry is an immutable audit record. Every state-changing operation
// in the back office (override grants, subscription changes, handover
// transitions) appends one.
type TimelineEntry struct {
	ID      int64
	ActorID int64
	Action  string
	Entity  string
	RefID   uuid.UUID
	Meta    map[string]any
	At      time.Time
}

// TimelineRecorder persists timeline entries.
type TimelineRecorder struct {
	pool *pgxpool.Pool
}

// NewTimelineRecorder returns a TimelineRecorder backed by the pool.
func NewTimelineRecorder(pool *pgxpool.Pool) *TimelineRecorder {
	return &TimelineRecorder{pool: pool}
}

// Append persists the entry. Entries are never updated or deleted.
func (r *TimelineRecorder) Append(ctx context.Context, entry TimelineEntry) error {
	if r == nil {
		return errors.New("timeline recorder not initialised")
	}
	if entry.Action == "" || entry.Entity == "" {
		return errors.New("timeline entry requires action and entity")
	}
	if entry.RefID == uuid.Nil {
		return errors.New("timeline entry requires ref id")
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO timeline_entries (actor_id, action, entity, ref_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, '0001-01-01 00:00:00'::timestamptz), NOW()))`,
		entry.ActorID, entry.Action, entry.Entity, entry.RefID, metaJSON, entry.At)
	return err
}

// List returns entries for an entity/ref in chronological order.
func (r *TimelineRecorder) List(ctx context.Context, entity string, ref uuid.UUID) ([]TimelineEntry, error) {
	if r == nil {
		return nil, errors.New("timeline recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, actor_id, action, entity, ref_id, meta, occurred_at
FROM timeline_entries WHERE entity=$1 AND ref_id=$2 ORDER BY occurred_at ASC, id ASC`, entity, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []TimelineEntry
	for rows.Next() {
		var entry TimelineEntry
		var metaJSON []byte
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.Action, &entry.Entity, &entry.RefID, &metaJSON, &entry.At); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &entry.Meta); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
