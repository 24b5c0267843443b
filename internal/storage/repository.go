package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tavola/internal/core"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNotFound is returned when a tenant-scoped row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would duplicate a unique name.
var ErrConflict = errors.New("already exists")

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	// Primary result code only, when extended codes are off.
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}

const (
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
	dateLayout      = "2006-01-02"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping backs the readiness probe.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CreateRestaurant(ctx context.Context, rest core.Restaurant) (core.Restaurant, error) {
	if rest.Timezone == "" {
		rest.Timezone = "UTC"
	}
	if rest.CreatedAt.IsZero() {
		rest.CreatedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO restaurants (name, timezone, created_at) VALUES (?, ?, ?)`,
		rest.Name, rest.Timezone, formatTimestamp(rest.CreatedAt))
	if err != nil {
		return rest, fmt.Errorf("insert restaurant: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return rest, fmt.Errorf("restaurant id: %w", err)
	}
	rest.ID = core.RestaurantID(id)
	rest.CreatedAt = rest.CreatedAt.UTC()

	slog.InfoContext(ctx, "Restaurant created", "restaurant_id", id, "name", rest.Name)
	return rest, nil
}

func (r *SQLiteRepository) GetRestaurant(ctx context.Context, id core.RestaurantID) (core.Restaurant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, timezone, created_at FROM restaurants WHERE id = ?`, int64(id))
	rest, err := scanRestaurant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Restaurant{}, fmt.Errorf("restaurant %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Restaurant{}, fmt.Errorf("get restaurant %d: %w", id, err)
	}
	return rest, nil
}

func (r *SQLiteRepository) ListRestaurants(ctx context.Context) ([]core.Restaurant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, timezone, created_at FROM restaurants ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list restaurants: %w", err)
	}
	defer rows.Close()

	var out []core.Restaurant
	for rows.Next() {
		rest, err := scanRestaurant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan restaurant: %w", err)
		}
		out = append(out, rest)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRestaurant(s scanner) (core.Restaurant, error) {
	var (
		id        int64
		rest      core.Restaurant
		createdAt string
	)
	if err := s.Scan(&id, &rest.Name, &rest.Timezone, &createdAt); err != nil {
		return rest, err
	}
	ts, err := parseTimestamp(createdAt)
	if err != nil {
		return rest, err
	}
	rest.ID = core.RestaurantID(id)
	rest.CreatedAt = ts
	return rest, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
