package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tavola/internal/core"

	"github.com/shopspring/decimal"
)

func (r *SQLiteRepository) InsertExpense(ctx context.Context, e *core.Expense) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (restaurant_id, date, description, amount, category) VALUES (?, ?, ?, ?, ?)`,
		int64(e.RestaurantID), e.Date.Format(dateLayout), e.Description, e.Amount.String(), e.Category)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("expense id: %w", err)
	}
	e.ID = id

	slog.InfoContext(ctx, "Expense saved to SQLite",
		"id", id,
		"restaurant_id", int64(e.RestaurantID),
		"description", e.Description,
		"amount", e.Amount.String(),
		"date", e.Date.Format(dateLayout))
	return nil
}

// ListExpenses returns expenses dated in [from, to). Only the calendar date
// of each bound is used. Returned dates are midnight UTC.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, rid core.RestaurantID, from, to time.Time) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, date, description, amount, category
		FROM expenses
		WHERE restaurant_id = ? AND date >= ? AND date < ?
		ORDER BY date, id`,
		int64(rid), from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		var date, amount string
		e := core.Expense{RestaurantID: rid}
		if err := rows.Scan(&e.ID, &date, &e.Description, &amount, &e.Category); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		d, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("expense %d date: %w", e.ID, err)
		}
		a, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("expense %d amount: %w", e.ID, err)
		}
		e.Date = d
		e.Amount = a
		out = append(out, e)
	}
	return out, rows.Err()
}
