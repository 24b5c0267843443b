package storage

import (
	"context"
	"database/sql"
	"fmt"

	"tavola/internal/core"

	"github.com/shopspring/decimal"
)

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (restaurant_id, name) VALUES (?, ?)`,
		int64(c.RestaurantID), c.Name)
	if isUniqueViolation(err) {
		return c, fmt.Errorf("category %q: %w", c.Name, ErrConflict)
	}
	if err != nil {
		return c, fmt.Errorf("insert category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return c, fmt.Errorf("category id: %w", err)
	}
	c.ID = core.CategoryID(id)
	return c, nil
}

// DeleteCategory removes a category. Menu items that referenced it become
// uncategorized.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, rid core.RestaurantID, id core.CategoryID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM categories WHERE id = ? AND restaurant_id = ?`, int64(id), int64(rid))
	if err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	return expectAffected(res, fmt.Sprintf("category %d", id))
}

func (r *SQLiteRepository) ListCategories(ctx context.Context, rid core.RestaurantID) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name FROM categories WHERE restaurant_id = ? ORDER BY name, id`, int64(rid))
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var id int64
		c := core.Category{RestaurantID: rid}
		if err := rows.Scan(&id, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.ID = core.CategoryID(id)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateMenuItem(ctx context.Context, m core.MenuItem) (core.MenuItem, error) {
	var category sql.NullInt64
	if m.CategoryID > 0 {
		category = sql.NullInt64{Int64: int64(m.CategoryID), Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO menu_items (restaurant_id, category_id, name, price) VALUES (?, ?, ?, ?)`,
		int64(m.RestaurantID), category, m.Name, m.Price.String())
	if err != nil {
		return m, fmt.Errorf("insert menu item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return m, fmt.Errorf("menu item id: %w", err)
	}
	m.ID = core.MenuItemID(id)
	return m, nil
}

// DeleteMenuItem removes an item from the menu. Past order lines keep
// pointing at its id.
func (r *SQLiteRepository) DeleteMenuItem(ctx context.Context, rid core.RestaurantID, id core.MenuItemID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM menu_items WHERE id = ? AND restaurant_id = ?`, int64(id), int64(rid))
	if err != nil {
		return fmt.Errorf("delete menu item %d: %w", id, err)
	}
	return expectAffected(res, fmt.Sprintf("menu item %d", id))
}

func (r *SQLiteRepository) ListMenuItems(ctx context.Context, rid core.RestaurantID) ([]core.MenuItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, category_id, name, price FROM menu_items WHERE restaurant_id = ? ORDER BY name, id`,
		int64(rid))
	if err != nil {
		return nil, fmt.Errorf("list menu items: %w", err)
	}
	defer rows.Close()

	var out []core.MenuItem
	for rows.Next() {
		var (
			id       int64
			category sql.NullInt64
			price    string
		)
		m := core.MenuItem{RestaurantID: rid}
		if err := rows.Scan(&id, &category, &m.Name, &price); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("menu item %d price: %w", id, err)
		}
		m.ID = core.MenuItemID(id)
		m.CategoryID = core.CategoryID(category.Int64)
		m.Price = p
		out = append(out, m)
	}
	return out, rows.Err()
}

func expectAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
