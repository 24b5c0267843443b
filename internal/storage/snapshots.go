package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tavola/internal/core"
)

// Snapshot is a precomputed report stored as JSON.
type Snapshot struct {
	RestaurantID core.RestaurantID
	Year         int
	Kind         string
	Payload      json.RawMessage
	UpdatedAt    time.Time
}

func (r *SQLiteRepository) UpsertSnapshot(ctx context.Context, s Snapshot) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO report_snapshots (restaurant_id, year, kind, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (restaurant_id, year, kind)
		DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		int64(s.RestaurantID), s.Year, s.Kind, string(s.Payload), formatTimestamp(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert snapshot %s/%d: %w", s.Kind, s.Year, err)
	}
	return nil
}

func (r *SQLiteRepository) GetSnapshot(ctx context.Context, rid core.RestaurantID, year int, kind string) (Snapshot, error) {
	var payload, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT payload, updated_at FROM report_snapshots
		WHERE restaurant_id = ? AND year = ? AND kind = ?`,
		int64(rid), year, kind).Scan(&payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("snapshot %s/%d: %w", kind, year, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot %s/%d: %w", kind, year, err)
	}
	ts, err := parseTimestamp(updatedAt)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		RestaurantID: rid,
		Year:         year,
		Kind:         kind,
		Payload:      json.RawMessage(payload),
		UpdatedAt:    ts,
	}, nil
}
