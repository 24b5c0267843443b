package services

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"tavola/internal/amqp"
	"tavola/internal/core"
	"tavola/internal/log"
	"tavola/internal/storage"
)

// memStore is an in-memory stand-in for the SQLite repository.
type memStore struct {
	mu          sync.Mutex
	restaurants []core.Restaurant
	categories  []core.Category
	items       []core.MenuItem
	orders      []core.Order
	expenses    []core.Expense
	snapshots   map[string]storage.Snapshot

	listOrdersCalls int
	failOrders      error
	ordersGate      *gate
}

// gate holds ListOrders after it has read its rows, until release is closed.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (m *memStore) setOrdersGate(g *gate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ordersGate = g
}

func newMemStore() *memStore {
	return &memStore{snapshots: make(map[string]storage.Snapshot)}
}

func (m *memStore) CreateRestaurant(_ context.Context, r core.Restaurant) (core.Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = core.RestaurantID(len(m.restaurants) + 1)
	m.restaurants = append(m.restaurants, r)
	return r, nil
}

func (m *memStore) GetRestaurant(_ context.Context, id core.RestaurantID) (core.Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.restaurants {
		if r.ID == id {
			return r, nil
		}
	}
	return core.Restaurant{}, fmt.Errorf("restaurant %d: %w", id, storage.ErrNotFound)
}

func (m *memStore) ListRestaurants(context.Context) ([]core.Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.restaurants), nil
}

func (m *memStore) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = core.CategoryID(len(m.categories) + 1)
	m.categories = append(m.categories, c)
	return c, nil
}

func (m *memStore) DeleteCategory(_ context.Context, rid core.RestaurantID, id core.CategoryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.categories, func(c core.Category) bool { return c.ID == id && c.RestaurantID == rid })
	if i < 0 {
		return storage.ErrNotFound
	}
	m.categories = slices.Delete(m.categories, i, i+1)
	for j := range m.items {
		if m.items[j].CategoryID == id {
			m.items[j].CategoryID = 0
		}
	}
	return nil
}

func (m *memStore) ListCategories(_ context.Context, rid core.RestaurantID) ([]core.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Category
	for _, c := range m.categories {
		if c.RestaurantID == rid {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) CreateMenuItem(_ context.Context, it core.MenuItem) (core.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.ID = core.MenuItemID(len(m.items) + 100)
	m.items = append(m.items, it)
	return it, nil
}

func (m *memStore) DeleteMenuItem(_ context.Context, rid core.RestaurantID, id core.MenuItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.items, func(it core.MenuItem) bool { return it.ID == id && it.RestaurantID == rid })
	if i < 0 {
		return storage.ErrNotFound
	}
	m.items = slices.Delete(m.items, i, i+1)
	return nil
}

func (m *memStore) ListMenuItems(_ context.Context, rid core.RestaurantID) ([]core.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.MenuItem
	for _, it := range m.items {
		if it.RestaurantID == rid {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) InsertOrder(_ context.Context, o *core.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = int64(len(m.orders) + 1)
	m.orders = append(m.orders, *o)
	return nil
}

func (m *memStore) ListOrders(ctx context.Context, rid core.RestaurantID, from, to time.Time) ([]core.OrderSummary, error) {
	m.mu.Lock()
	m.listOrdersCalls++
	if m.failOrders != nil {
		m.mu.Unlock()
		return nil, m.failOrders
	}
	var out []core.OrderSummary
	for _, o := range m.orders {
		if o.RestaurantID != rid {
			continue
		}
		if !from.IsZero() && o.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !o.CreatedAt.Before(to) {
			continue
		}
		out = append(out, core.OrderSummary{CreatedAt: o.CreatedAt, Total: o.Total, PaymentMode: o.PaymentMode})
	}
	g := m.ordersGate
	m.mu.Unlock()

	if g != nil {
		g.entered <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (m *memStore) InsertExpense(_ context.Context, e *core.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.expenses) + 1)
	m.expenses = append(m.expenses, *e)
	return nil
}

func (m *memStore) ListExpenses(_ context.Context, rid core.RestaurantID, from, to time.Time) ([]core.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	const layout = "2006-01-02"
	var out []core.Expense
	for _, e := range m.expenses {
		d := e.Date.Format(layout)
		if e.RestaurantID != rid {
			continue
		}
		if !from.IsZero() && d < from.Format(layout) {
			continue
		}
		if !to.IsZero() && d >= to.Format(layout) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// LineQuantities mirrors the repository query: one row per menu item in
// order of first sale, with the item's current category.
func (m *memStore) LineQuantities(_ context.Context, rid core.RestaurantID) ([]core.LineQuantity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.LineQuantity
	index := make(map[core.MenuItemID]int)
	for _, o := range m.orders {
		if o.RestaurantID != rid {
			continue
		}
		for _, l := range o.Lines {
			i, ok := index[l.MenuItemID]
			if !ok {
				var cat core.CategoryID
				for _, it := range m.items {
					if it.ID == l.MenuItemID {
						cat = it.CategoryID
					}
				}
				i = len(out)
				index[l.MenuItemID] = i
				out = append(out, core.LineQuantity{MenuItemID: l.MenuItemID, CategoryID: cat})
			}
			out[i].Quantity += int64(l.Quantity)
		}
	}
	return out, nil
}

func snapshotKey(rid core.RestaurantID, year int, kind string) string {
	return fmt.Sprintf("%d/%d/%s", rid, year, kind)
}

func (m *memStore) UpsertSnapshot(_ context.Context, s storage.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshotKey(s.RestaurantID, s.Year, s.Kind)] = s
	return nil
}

func (m *memStore) GetSnapshot(_ context.Context, rid core.RestaurantID, year int, kind string) (storage.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[snapshotKey(rid, year, kind)]
	if !ok {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	return s, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []amqp.RecordEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, ev amqp.RecordEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type fakeExporter struct {
	reports []AnnualReport
	err     error
}

func (e *fakeExporter) ExportAnnual(_ context.Context, r AnnualReport) error {
	e.reports = append(e.reports, r)
	return e.err
}

func discardLogger() *log.Logger {
	return log.New(log.Config{Output: io.Discard})
}
