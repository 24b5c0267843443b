package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"tavola/internal/core"

	"github.com/shopspring/decimal"
)

// InsertOrder writes the order and its lines in one transaction and sets
// o.ID on success.
func (r *SQLiteRepository) InsertOrder(ctx context.Context, o *core.Order) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO orders (ref, restaurant_id, created_at, total, payment_mode) VALUES (?, ?, ?, ?, ?)`,
			o.Ref, int64(o.RestaurantID), formatTimestamp(o.CreatedAt), o.Total.String(), string(o.PaymentMode))
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("order id: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO order_lines (order_id, menu_item_id, quantity, unit_price) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare order lines: %w", err)
		}
		defer stmt.Close()

		for _, l := range o.Lines {
			if _, err := stmt.ExecContext(ctx, id, int64(l.MenuItemID), l.Quantity, l.UnitPrice.String()); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		o.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Order saved to SQLite",
		"id", o.ID,
		"ref", o.Ref,
		"restaurant_id", int64(o.RestaurantID),
		"total", o.Total.String(),
		"lines", len(o.Lines))
	return nil
}

// ListOrders returns the orders created in [from, to). A zero bound leaves
// that side of the range open.
func (r *SQLiteRepository) ListOrders(ctx context.Context, rid core.RestaurantID, from, to time.Time) ([]core.OrderSummary, error) {
	query := `SELECT created_at, total, payment_mode FROM orders WHERE restaurant_id = ?`
	args := []any{int64(rid)}
	if !from.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTimestamp(from))
	}
	if !to.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, formatTimestamp(to))
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []core.OrderSummary
	for rows.Next() {
		var createdAt, total, mode string
		if err := rows.Scan(&createdAt, &total, &mode); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("order total %q: %w", total, err)
		}
		out = append(out, core.OrderSummary{
			CreatedAt:   ts,
			Total:       amount,
			PaymentMode: core.PaymentMode(mode),
		})
	}
	return out, rows.Err()
}

// LineQuantities sums quantity sold per menu item, in the order items were
// first sold. The category is the item's current one, zero when the item is
// uncategorized or no longer on the menu.
func (r *SQLiteRepository) LineQuantities(ctx context.Context, rid core.RestaurantID) ([]core.LineQuantity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ol.menu_item_id, COALESCE(mi.category_id, 0), SUM(ol.quantity)
		FROM order_lines ol
		JOIN orders o ON o.id = ol.order_id
		LEFT JOIN menu_items mi ON mi.id = ol.menu_item_id AND mi.restaurant_id = o.restaurant_id
		WHERE o.restaurant_id = ?
		GROUP BY ol.menu_item_id
		ORDER BY MIN(ol.id)`, int64(rid))
	if err != nil {
		return nil, fmt.Errorf("line quantities: %w", err)
	}
	defer rows.Close()

	var out []core.LineQuantity
	for rows.Next() {
		var item, category, qty int64
		if err := rows.Scan(&item, &category, &qty); err != nil {
			return nil, fmt.Errorf("scan line quantity: %w", err)
		}
		out = append(out, core.LineQuantity{
			MenuItemID: core.MenuItemID(item),
			CategoryID: core.CategoryID(category),
			Quantity:   qty,
		})
	}
	return out, rows.Err()
}
