package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tavola/internal/amqp"
	"tavola/internal/core"
	"tavola/internal/log"

	"github.com/google/uuid"
)

// ErrInvalidInput wraps every validation failure of the record service.
var ErrInvalidInput = errors.New("invalid input")

// RecordStore is the write side of the repository.
type RecordStore interface {
	GetRestaurant(ctx context.Context, id core.RestaurantID) (core.Restaurant, error)
	CreateRestaurant(ctx context.Context, r core.Restaurant) (core.Restaurant, error)
	ListCategories(ctx context.Context, rid core.RestaurantID) ([]core.Category, error)
	ListMenuItems(ctx context.Context, rid core.RestaurantID) ([]core.MenuItem, error)
	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	CreateMenuItem(ctx context.Context, m core.MenuItem) (core.MenuItem, error)
	DeleteCategory(ctx context.Context, rid core.RestaurantID, id core.CategoryID) error
	DeleteMenuItem(ctx context.Context, rid core.RestaurantID, id core.MenuItemID) error
	InsertOrder(ctx context.Context, o *core.Order) error
	InsertExpense(ctx context.Context, e *core.Expense) error
}

// EventPublisher sends record events to the worker.
type EventPublisher interface {
	Publish(ctx context.Context, ev amqp.RecordEvent) error
}

// Invalidator drops cached reports of a restaurant.
type Invalidator interface {
	Invalidate(rid core.RestaurantID)
}

// RecordService validates and stores orders, expenses and catalog changes.
// The database write is the source of truth: publishing is best effort.
type RecordService struct {
	store       RecordStore
	publisher   EventPublisher
	invalidator Invalidator
	logger      *log.Logger
	structured  *log.StructuredLogger
	now         func() time.Time
}

// NewRecordService wires the service. publisher and invalidator may be nil.
func NewRecordService(store RecordStore, publisher EventPublisher, invalidator Invalidator, logger *log.Logger) *RecordService {
	l := logger.WithComponent(log.ComponentRecords)
	return &RecordService{
		store:       store,
		publisher:   publisher,
		invalidator: invalidator,
		logger:      l,
		structured:  log.NewStructuredLogger(l),
		now:         time.Now,
	}
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

func (s *RecordService) CreateRestaurant(ctx context.Context, r core.Restaurant) (core.Restaurant, error) {
	if err := r.Validate(); err != nil {
		return core.Restaurant{}, invalid(err)
	}
	return s.store.CreateRestaurant(ctx, r)
}

// RecordOrder prices the lines from the current menu, stores the order and
// announces it. Client supplied prices and totals are ignored.
func (s *RecordService) RecordOrder(ctx context.Context, o core.Order) (core.Order, error) {
	rest, err := s.store.GetRestaurant(ctx, o.RestaurantID)
	if err != nil {
		return core.Order{}, err
	}
	if err := o.Validate(); err != nil {
		return core.Order{}, invalid(err)
	}

	items, err := s.store.ListMenuItems(ctx, rest.ID)
	if err != nil {
		return core.Order{}, fmt.Errorf("load menu: %w", err)
	}
	menu := make(map[core.MenuItemID]core.MenuItem, len(items))
	for _, it := range items {
		menu[it.ID] = it
	}

	lines := make([]core.OrderLine, len(o.Lines))
	for i, l := range o.Lines {
		item, ok := menu[l.MenuItemID]
		if !ok {
			return core.Order{}, invalid(fmt.Errorf("%w: %d", core.ErrUnknownMenuItem, l.MenuItemID))
		}
		l.UnitPrice = item.Price
		lines[i] = l
	}
	o.Lines = lines
	o.Total = o.ComputeTotal()
	o.Ref = uuid.NewString()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	o.CreatedAt = o.CreatedAt.UTC()

	if err := s.store.InsertOrder(ctx, &o); err != nil {
		return core.Order{}, fmt.Errorf("save order: %w", err)
	}

	s.structured.LogOrderRecorded(ctx, int64(rest.ID), o.Ref, core.FormatAmount(o.Total), string(o.PaymentMode), len(o.Lines))
	s.changed(ctx, rest, amqp.KindOrderRecorded, o.CreatedAt.In(rest.Location()).Year())
	return o, nil
}

func (s *RecordService) RecordExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	rest, err := s.store.GetRestaurant(ctx, e.RestaurantID)
	if err != nil {
		return core.Expense{}, err
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, invalid(err)
	}
	y, m, d := e.Date.Date()
	e.Date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	if err := s.store.InsertExpense(ctx, &e); err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	s.changed(ctx, rest, amqp.KindExpenseRecorded, y)
	return e, nil
}

func (s *RecordService) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	rest, err := s.store.GetRestaurant(ctx, c.RestaurantID)
	if err != nil {
		return core.Category{}, err
	}
	if err := c.Validate(); err != nil {
		return core.Category{}, invalid(err)
	}
	c, err = s.store.CreateCategory(ctx, c)
	if err != nil {
		return core.Category{}, err
	}
	s.changed(ctx, rest, amqp.KindCatalogChanged, s.now().In(rest.Location()).Year())
	return c, nil
}

func (s *RecordService) CreateMenuItem(ctx context.Context, m core.MenuItem) (core.MenuItem, error) {
	rest, err := s.store.GetRestaurant(ctx, m.RestaurantID)
	if err != nil {
		return core.MenuItem{}, err
	}
	if err := m.Validate(); err != nil {
		return core.MenuItem{}, invalid(err)
	}
	if m.CategoryID != 0 {
		cats, err := s.store.ListCategories(ctx, rest.ID)
		if err != nil {
			return core.MenuItem{}, fmt.Errorf("load categories: %w", err)
		}
		found := false
		for _, c := range cats {
			if c.ID == m.CategoryID {
				found = true
				break
			}
		}
		if !found {
			return core.MenuItem{}, invalid(fmt.Errorf("%w: %d", core.ErrUnknownCategory, m.CategoryID))
		}
	}
	m.Price = m.Price.Round(2)
	m, err = s.store.CreateMenuItem(ctx, m)
	if err != nil {
		return core.MenuItem{}, err
	}
	s.changed(ctx, rest, amqp.KindCatalogChanged, s.now().In(rest.Location()).Year())
	return m, nil
}

// DeleteCategory leaves the category's items uncategorized; their past
// sales rank under the unknown category afterwards.
func (s *RecordService) DeleteCategory(ctx context.Context, rid core.RestaurantID, id core.CategoryID) error {
	rest, err := s.store.GetRestaurant(ctx, rid)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCategory(ctx, rid, id); err != nil {
		return err
	}
	s.changed(ctx, rest, amqp.KindCatalogChanged, s.now().In(rest.Location()).Year())
	return nil
}

func (s *RecordService) DeleteMenuItem(ctx context.Context, rid core.RestaurantID, id core.MenuItemID) error {
	rest, err := s.store.GetRestaurant(ctx, rid)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMenuItem(ctx, rid, id); err != nil {
		return err
	}
	s.changed(ctx, rest, amqp.KindCatalogChanged, s.now().In(rest.Location()).Year())
	return nil
}

// changed invalidates cached reports and notifies the worker.
func (s *RecordService) changed(ctx context.Context, rest core.Restaurant, kind amqp.EventKind, year int) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(rest.ID)
	}
	if s.publisher == nil {
		s.logger.WithRestaurant(int64(rest.ID)).DebugContext(ctx, "AMQP publisher not configured, skipping event", log.FieldEventKind, string(kind))
		return
	}
	ev := amqp.NewRecordEvent(int64(rest.ID), kind, year)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.structured.LogError(ctx, "Failed to publish record event", err, log.ComponentRecords, log.OpPublish,
			log.NewFields().WithReport(int64(rest.ID), string(kind), year, 0))
	}
}
