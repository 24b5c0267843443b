package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tavola/internal/analytics"
	"tavola/internal/cache"
	"tavola/internal/core"
	"tavola/internal/log"
	"tavola/internal/storage"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Report names, used in cache keys and logs.
const (
	ReportMonthlyRevenue  = "monthly_revenue"
	ReportMonthlyExpenses = "monthly_expenses"
	ReportWeeklyRevenue   = "weekly_revenue"
	ReportTopCategories   = "top_categories"
	ReportTopItems        = "top_items"
	ReportPopularDays     = "popular_days"
	ReportPaymentModes    = "payment_modes"
	ReportOverview        = "overview"
)

const unknownPaymentMode = "Unknown"

// ReportStore is the read side of the repository.
type ReportStore interface {
	GetRestaurant(ctx context.Context, id core.RestaurantID) (core.Restaurant, error)
	ListOrders(ctx context.Context, rid core.RestaurantID, from, to time.Time) ([]core.OrderSummary, error)
	ListExpenses(ctx context.Context, rid core.RestaurantID, from, to time.Time) ([]core.Expense, error)
	LineQuantities(ctx context.Context, rid core.RestaurantID) ([]core.LineQuantity, error)
	ListCategories(ctx context.Context, rid core.RestaurantID) ([]core.Category, error)
	ListMenuItems(ctx context.Context, rid core.RestaurantID) ([]core.MenuItem, error)
	GetSnapshot(ctx context.Context, rid core.RestaurantID, year int, kind string) (storage.Snapshot, error)
}

// Overview bundles every chart of the dashboard page.
type Overview struct {
	Restaurant    string                  `json:"restaurant"`
	Year          int                     `json:"year"`
	Month         int                     `json:"month"`
	Revenue       []analytics.SeriesPoint `json:"revenue"`
	Expenses      []analytics.SeriesPoint `json:"expenses"`
	Profit        []analytics.SeriesPoint `json:"profit"`
	Weekly        []analytics.SeriesPoint `json:"weekly"`
	TopCategories []analytics.RankedEntry `json:"top_categories"`
	TopItems      []analytics.RankedEntry `json:"top_items"`
	PaymentModes  []analytics.RankedEntry `json:"payment_modes"`
	TotalRevenue  json.Number             `json:"total_revenue"`
	TotalExpenses json.Number             `json:"total_expenses"`
	NetProfit     json.Number             `json:"net_profit"`
}

// loadTimeout bounds a shared report load, which outlives the request that
// started it.
const loadTimeout = 10 * time.Second

// ReportService computes dashboard reports. Results are cached per tenant
// and period; returned slices are shared and must not be modified.
type ReportService struct {
	store  ReportStore
	cache  cache.Cache[any]
	group  singleflight.Group
	logger *log.Logger

	// gens counts invalidations per tenant. A load only caches its result
	// if the tenant's generation has not moved since the load started.
	mu   sync.Mutex
	gens map[core.RestaurantID]uint64
}

func NewReportService(store ReportStore, c cache.Cache[any], logger *log.Logger) *ReportService {
	return &ReportService{
		store:  store,
		cache:  c,
		logger: logger.WithComponent(log.ComponentReports),
		gens:   make(map[core.RestaurantID]uint64),
	}
}

func cacheKey(rid core.RestaurantID, report string, a, b int) string {
	return fmt.Sprintf("r%d:%s:%d:%d", rid, report, a, b)
}

func tenantPrefix(rid core.RestaurantID) string {
	return fmt.Sprintf("r%d:", rid)
}

// Invalidate drops every cached report of a restaurant. Loads already in
// flight still answer their callers but no longer populate the cache.
func (s *ReportService) Invalidate(rid core.RestaurantID) {
	s.mu.Lock()
	s.gens[rid]++
	n := 0
	if s.cache != nil {
		n = s.cache.DeletePrefix(tenantPrefix(rid))
	}
	s.mu.Unlock()
	if n > 0 {
		s.logger.Debug("Report cache invalidated", log.FieldRestaurantID, int64(rid), "entries", n)
	}
}

func (s *ReportService) generation(rid core.RestaurantID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[rid]
}

// keep caches v unless the tenant was invalidated after gen was read.
func (s *ReportService) keep(rid core.RestaurantID, gen uint64, key string, v any) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[rid] == gen {
		s.cache.Set(key, v)
	}
}

// cached serves key from the cache, collapsing concurrent misses into one
// load. The load runs detached from any single caller; each caller stops
// waiting when its own context is done.
func cached[T any](ctx context.Context, s *ReportService, rid core.RestaurantID, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			if t, ok := v.(T); ok {
				return t, nil
			}
		}
	}

	gen := s.generation(rid)
	ch := s.group.DoChan(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		t, err := load(lctx)
		if err != nil {
			return nil, err
		}
		s.keep(rid, gen, key, t)
		return t, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (s *ReportService) MonthlyRevenue(ctx context.Context, rid core.RestaurantID, year int) ([]analytics.SeriesPoint, error) {
	return cached(ctx, s, rid, cacheKey(rid, ReportMonthlyRevenue, year, 0), func(ctx context.Context) ([]analytics.SeriesPoint, error) {
		rest, err := s.store.GetRestaurant(ctx, rid)
		if err != nil {
			return nil, err
		}
		return s.monthlyRevenue(ctx, rest, year)
	})
}

func (s *ReportService) MonthlyExpenses(ctx context.Context, rid core.RestaurantID, year int) ([]analytics.SeriesPoint, error) {
	return cached(ctx, s, rid, cacheKey(rid, ReportMonthlyExpenses, year, 0), func(ctx context.Context) ([]analytics.SeriesPoint, error) {
		rest, err := s.store.GetRestaurant(ctx, rid)
		if err != nil {
			return nil, err
		}
		return s.monthlyExpenses(ctx, rest, year)
	})
}

// WeeklyRevenue splits one month's revenue into the five week-of-month slots.
func (s *ReportService) WeeklyRevenue(ctx context.Context, rid core.RestaurantID, year int, month time.Month) ([]analytics.SeriesPoint, error) {
	return cached(ctx, s, rid, cacheKey(rid, ReportWeeklyRevenue, year, int(month)), func(ctx context.Context) ([]analytics.SeriesPoint, error) {
		rest, err := s.store.GetRestaurant(ctx, rid)
		if err != nil {
			return nil, err
		}
		w := analytics.MonthWindow(year, month, rest.Location())
		orders, err := s.store.ListOrders(ctx, rid, w.Start, w.End)
		if err != nil {
			return nil, fmt.Errorf("weekly revenue: %w", err)
		}
		return analytics.WeeklySeries(orderAmounts(orders), w), nil
	})
}

// TopCategories ranks categories by quantity sold. Sales of items without a
// category, or whose category was deleted, rank as one unknown entry.
func (s *ReportService) TopCategories(ctx context.Context, rid core.RestaurantID, n int) ([]analytics.RankedEntry, error) {
	return cached(ctx, s, rid, cacheKey(rid, ReportTopCategories, n, 0), func(ctx context.Context) ([]analytics.RankedEntry, error) {
		if _, err := s.store.GetRestaurant(ctx, rid); err != nil {
			return nil, err
		}
		qty, err := s.store.LineQuantities(ctx, rid)
		if err != nil {
			return nil, fmt.Errorf("top categories: %w", err)
		}
		cats, err := s.store.ListCategories(ctx, rid)
		if err != nil {
			return nil, fmt.Errorf("top categories: %w", err)
		}

		names := make(map[core.CategoryID]string, len(cats))
		for _, c := range cats {
			names[c.ID] = c.Name
		}
		var tally analytics.Tally[core.CategoryID]
		for _, q := range qty {
			tally.Add(q.CategoryID, decimalInt(q.Quantity))
		}
		return analytics.Rank(tally.Counts(), n, analytics.LabelMap(names), analytics.UnknownCategory), nil
	})
}

// TopItems ranks menu items by quantity sold. Items removed from the menu
// keep their sales under the unknown label.
func (s *ReportService) TopItems(ctx context.Context, rid core.RestaurantID, n int) ([]analytics.RankedEntry, error) {
	return cached(ctx, s, rid, cacheKey(rid, ReportTopItems, n, 0), func(ctx context.Context) ([]analytics.RankedEntry, error) {
		if _, err := s.store.GetRestaurant(ctx, rid); err != nil {
			return nil, err
		}
		qty, err := s.store.LineQuantities(ctx, rid)
		if err != nil {
			return nil, fmt.Errorf("top items: %w", err)
		}
		items, err := s.store.ListMenuItems(ctx, rid)
		if err != nil {
			return nil, fmt.Errorf("top items: %w", err)
		}

		names := make(map[core.MenuItemID]string, len(items))
		for _, it := range items {
			names[it.ID] = it.Name
		}
		counts := make([]analytics.Count[core.MenuItemID], len(qty))
		for i, q := range qty {
			counts[i] = analytics.Count[core.MenuItemID]{Key: q.MenuItemID, Value: decimalInt(q.Quantity)}
		}
		return analytics.Rank(counts, n, analytics.LabelMap(names), analytics.UnknownItem), nil
	})
}

// PopularDays ranks weekdays by number of orders over the restaurant's
// whole history. Each order counts once, on the weekday of its creation in
// the restaurant's timezone.
func (s *ReportService) PopularDays(ctx context.Context, rid core.RestaurantID) ([]analytics.RankedEntry, error) {
	return cached(ctx, s, rid, cacheKey(rid, ReportPopularDays, 0, 0), func(ctx context.Context) ([]analytics.RankedEntry, error) {
		rest, err := s.store.GetRestaurant(ctx, rid)
		if err != nil {
			return nil, err
		}
		orders, err := s.store.ListOrders(ctx, rid, time.Time{}, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("popular days: %w", err)
		}

		loc := rest.Location()
		var tally analytics.Tally[time.Weekday]
		for _, o := range orders {
			tally.Inc(o.CreatedAt.In(loc).Weekday())
		}
		label := func(d time.Weekday) (string, bool) { return d.String(), true }
		return analytics.Rank(tally.Counts(), 7, label, ""), nil
	})
}

// PaymentModes ranks payment modes by revenue within the year.
func (s *ReportService) PaymentModes(ctx context.Context, rid core.RestaurantID, year int) ([]analytics.RankedEntry, error) {
	return cached(ctx, s, rid, cacheKey(rid, ReportPaymentModes, year, 0), func(ctx context.Context) ([]analytics.RankedEntry, error) {
		rest, err := s.store.GetRestaurant(ctx, rid)
		if err != nil {
			return nil, err
		}
		w := analytics.YearWindow(year, rest.Location())
		orders, err := s.store.ListOrders(ctx, rid, w.Start, w.End)
		if err != nil {
			return nil, fmt.Errorf("payment modes: %w", err)
		}

		var tally analytics.Tally[core.PaymentMode]
		for _, o := range orders {
			tally.Add(o.PaymentMode, o.Total)
		}
		label := func(m core.PaymentMode) (string, bool) { return m.Label() }
		return analytics.Rank(tally.Counts(), len(core.PaymentModes())+1, label, unknownPaymentMode), nil
	})
}

// Overview assembles the dashboard. The independent reports are fetched
// concurrently; the first failure cancels the rest.
func (s *ReportService) Overview(ctx context.Context, rid core.RestaurantID, year int, month time.Month) (Overview, error) {
	rest, err := s.store.GetRestaurant(ctx, rid)
	if err != nil {
		return Overview{}, err
	}

	ov := Overview{Restaurant: rest.Name, Year: year, Month: int(month)}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { ov.Revenue, err = s.MonthlyRevenue(gctx, rid, year); return })
	g.Go(func() (err error) { ov.Expenses, err = s.MonthlyExpenses(gctx, rid, year); return })
	g.Go(func() (err error) { ov.Weekly, err = s.WeeklyRevenue(gctx, rid, year, month); return })
	g.Go(func() (err error) { ov.TopCategories, err = s.TopCategories(gctx, rid, 5); return })
	g.Go(func() (err error) { ov.TopItems, err = s.TopItems(gctx, rid, 5); return })
	g.Go(func() (err error) { ov.PaymentModes, err = s.PaymentModes(gctx, rid, year); return })
	if err := g.Wait(); err != nil {
		return Overview{}, fmt.Errorf("overview: %w", err)
	}

	ov.Profit = analytics.Difference(ov.Revenue, ov.Expenses)
	revenue := analytics.SeriesTotal(ov.Revenue)
	expenses := analytics.SeriesTotal(ov.Expenses)
	ov.TotalRevenue = json.Number(core.FormatAmount(revenue))
	ov.TotalExpenses = json.Number(core.FormatAmount(expenses))
	ov.NetProfit = json.Number(core.FormatAmount(revenue.Sub(expenses)))

	s.logger.DebugContext(ctx, "Overview computed", log.NewFields().WithReport(int64(rid), ReportOverview, year, int(month)).ToSlice()...)
	return ov, nil
}

func (s *ReportService) monthlyRevenue(ctx context.Context, rest core.Restaurant, year int) ([]analytics.SeriesPoint, error) {
	w := analytics.YearWindow(year, rest.Location())
	orders, err := s.store.ListOrders(ctx, rest.ID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("monthly revenue: %w", err)
	}
	return analytics.MonthlySeries(orderAmounts(orders), w), nil
}

func (s *ReportService) monthlyExpenses(ctx context.Context, rest core.Restaurant, year int) ([]analytics.SeriesPoint, error) {
	loc := rest.Location()
	w := analytics.YearWindow(year, loc)
	expenses, err := s.store.ListExpenses(ctx, rest.ID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("monthly expenses: %w", err)
	}
	return analytics.MonthlySeries(expenseAmounts(expenses, loc), w), nil
}

func orderAmounts(orders []core.OrderSummary) []analytics.TimedAmount {
	out := make([]analytics.TimedAmount, len(orders))
	for i, o := range orders {
		out[i] = analytics.TimedAmount{Timestamp: o.CreatedAt, Amount: o.Total}
	}
	return out
}

// expenseAmounts places each expense at local midnight of its date.
func expenseAmounts(expenses []core.Expense, loc *time.Location) []analytics.TimedAmount {
	out := make([]analytics.TimedAmount, len(expenses))
	for i, e := range expenses {
		y, m, d := e.Date.Date()
		out[i] = analytics.TimedAmount{Timestamp: time.Date(y, m, d, 0, 0, 0, 0, loc), Amount: e.Amount}
	}
	return out
}

func decimalInt(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}
