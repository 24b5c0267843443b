package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tavola/internal/analytics"
	"tavola/internal/cache"
	"tavola/internal/core"
	"tavola/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *memStore
	reports *ReportService
	records *RecordService
	pub     *fakePublisher
	rest    core.Restaurant
	pizza   core.Category
	drinks  core.Category
	marg    core.MenuItem
	diavola core.MenuItem
	cola    core.MenuItem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: newMemStore(), pub: &fakePublisher{}}
	f.reports = NewReportService(f.store, cache.NewLRUCache[any](100, time.Minute), discardLogger())
	f.records = NewRecordService(f.store, f.pub, f.reports, discardLogger())

	var err error
	f.rest, err = f.records.CreateRestaurant(ctx, core.Restaurant{Name: "Trattoria", Timezone: "Europe/Rome"})
	require.NoError(t, err)
	f.pizza, err = f.records.CreateCategory(ctx, core.Category{RestaurantID: f.rest.ID, Name: "Pizza"})
	require.NoError(t, err)
	f.drinks, err = f.records.CreateCategory(ctx, core.Category{RestaurantID: f.rest.ID, Name: "Drinks"})
	require.NoError(t, err)
	f.marg = f.item(t, f.pizza.ID, "Margherita", "8.50")
	f.diavola = f.item(t, f.pizza.ID, "Diavola", "10")
	f.cola = f.item(t, f.drinks.ID, "Cola", "3")
	f.pub.events = nil
	return f
}

func (f *fixture) item(t *testing.T, cat core.CategoryID, name, price string) core.MenuItem {
	t.Helper()
	it, err := f.records.CreateMenuItem(context.Background(), core.MenuItem{
		RestaurantID: f.rest.ID, CategoryID: cat, Name: name, Price: decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return it
}

func (f *fixture) order(t *testing.T, at time.Time, mode core.PaymentMode, lines ...core.OrderLine) core.Order {
	t.Helper()
	o, err := f.records.RecordOrder(context.Background(), core.Order{
		RestaurantID: f.rest.ID, CreatedAt: at, PaymentMode: mode, Lines: lines,
	})
	require.NoError(t, err)
	return o
}

func line(id core.MenuItemID, qty int) core.OrderLine {
	return core.OrderLine{MenuItemID: id, Quantity: qty}
}

func rome(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)
	return loc
}

func totals(points []analytics.SeriesPoint) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.Total.String()
	}
	return out
}

func TestMonthlyRevenue(t *testing.T) {
	f := newFixture(t)
	loc := rome(t)
	ctx := context.Background()

	f.order(t, time.Date(2024, 1, 10, 20, 0, 0, 0, loc), core.PaymentCash, line(f.marg.ID, 2))
	f.order(t, time.Date(2024, 3, 5, 13, 0, 0, 0, loc), core.PaymentCard, line(f.cola.ID, 1))
	// 00:30 local on Jan 1st is still Dec 31st in UTC.
	f.order(t, time.Date(2024, 1, 1, 0, 30, 0, 0, loc), core.PaymentCard, line(f.diavola.ID, 1))
	f.order(t, time.Date(2023, 12, 31, 12, 0, 0, 0, loc), core.PaymentCard, line(f.diavola.ID, 3))

	series, err := f.reports.MonthlyRevenue(ctx, f.rest.ID, 2024)
	require.NoError(t, err)
	require.Len(t, series, 12)
	assert.Equal(t, "Jan", series[0].Label)
	assert.Equal(t, "Dec", series[11].Label)
	assert.Equal(t, []string{"27", "0", "3", "0", "0", "0", "0", "0", "0", "0", "0", "0"}, totals(series))
}

func TestMonthlyRevenue_EmptyYearIsZeroFilled(t *testing.T) {
	f := newFixture(t)

	series, err := f.reports.MonthlyRevenue(context.Background(), f.rest.ID, 2030)
	require.NoError(t, err)
	require.Len(t, series, 12)
	for _, p := range series {
		assert.True(t, p.Total.IsZero())
	}
}

func TestMonthlyExpenses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, e := range []struct {
		date   time.Time
		amount string
	}{
		{time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "100.10"},
		{time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), "0.20"},
		{time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), "50"},
		{time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "999"},
	} {
		_, err := f.records.RecordExpense(ctx, core.Expense{
			RestaurantID: f.rest.ID, Date: e.date, Description: "Supplies", Category: "Food",
			Amount: decimal.RequireFromString(e.amount),
		})
		require.NoError(t, err)
	}

	series, err := f.reports.MonthlyExpenses(ctx, f.rest.ID, 2024)
	require.NoError(t, err)
	assert.Equal(t, "100.3", series[1].Total.String())
	assert.Equal(t, "50", series[11].Total.String())
	assert.Equal(t, "150.3", analytics.SeriesTotal(series).String())
}

func TestWeeklyRevenue(t *testing.T) {
	f := newFixture(t)
	loc := rome(t)

	f.order(t, time.Date(2024, 5, 1, 12, 0, 0, 0, loc), core.PaymentCash, line(f.cola.ID, 1))
	f.order(t, time.Date(2024, 5, 7, 12, 0, 0, 0, loc), core.PaymentCash, line(f.cola.ID, 1))
	f.order(t, time.Date(2024, 5, 8, 12, 0, 0, 0, loc), core.PaymentCash, line(f.cola.ID, 2))
	f.order(t, time.Date(2024, 5, 31, 23, 0, 0, 0, loc), core.PaymentCash, line(f.diavola.ID, 1))
	f.order(t, time.Date(2024, 6, 1, 12, 0, 0, 0, loc), core.PaymentCash, line(f.diavola.ID, 1))

	series, err := f.reports.WeeklyRevenue(context.Background(), f.rest.ID, 2024, time.May)
	require.NoError(t, err)
	require.Len(t, series, 5)
	assert.Equal(t, "Week 1", series[0].Label)
	assert.Equal(t, []string{"6", "6", "0", "0", "10"}, totals(series))
}

func TestTopCategoriesAndItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	f.order(t, at, core.PaymentCash, line(f.marg.ID, 2), line(f.cola.ID, 5))
	f.order(t, at, core.PaymentCard, line(f.diavola.ID, 1), line(f.marg.ID, 1))

	cats, err := f.reports.TopCategories(ctx, f.rest.ID, 5)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Drinks", cats[0].Label)
	assert.Equal(t, "5", cats[0].Value.String())
	assert.Equal(t, "Pizza", cats[1].Label)
	assert.Equal(t, "4", cats[1].Value.String())

	items, err := f.reports.TopItems(ctx, f.rest.ID, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Cola", items[0].Label)
	assert.Equal(t, "Margherita", items[1].Label)
	assert.Equal(t, "3", items[1].Value.String())
}

func TestTopReports_DeletedCatalogFallsBackToUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	f.order(t, at, core.PaymentCash, line(f.marg.ID, 2), line(f.cola.ID, 1), line(f.diavola.ID, 4))
	require.NoError(t, f.records.DeleteMenuItem(ctx, f.rest.ID, f.diavola.ID))
	require.NoError(t, f.records.DeleteCategory(ctx, f.rest.ID, f.drinks.ID))

	items, err := f.reports.TopItems(ctx, f.rest.ID, 5)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, analytics.UnknownItem, items[0].Label)

	cats, err := f.reports.TopCategories(ctx, f.rest.ID, 5)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, analytics.UnknownCategory, cats[0].Label)
	assert.Equal(t, "5", cats[0].Value.String())
	assert.Equal(t, "Pizza", cats[1].Label)
}

func TestTopItems_NonPositiveNIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.order(t, time.Now(), core.PaymentCash, line(f.marg.ID, 1))

	items, err := f.reports.TopItems(context.Background(), f.rest.ID, 0)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestPopularDays(t *testing.T) {
	f := newFixture(t)
	loc := rome(t)

	// Monday, Monday, Saturday in Rome. The Saturday order is Friday in UTC.
	f.order(t, time.Date(2024, 4, 1, 12, 0, 0, 0, loc), core.PaymentCash, line(f.cola.ID, 1))
	f.order(t, time.Date(2024, 4, 8, 12, 0, 0, 0, loc), core.PaymentCash, line(f.cola.ID, 1))
	f.order(t, time.Date(2024, 4, 6, 0, 30, 0, 0, loc), core.PaymentCash, line(f.cola.ID, 1))

	days, err := f.reports.PopularDays(context.Background(), f.rest.ID)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "Monday", days[0].Label)
	assert.Equal(t, "2", days[0].Value.String())
	assert.Equal(t, "Saturday", days[1].Label)
}

func TestPaymentModes(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	f.order(t, at, core.PaymentCash, line(f.cola.ID, 1))
	f.order(t, at, core.PaymentUPI, line(f.diavola.ID, 2))
	f.order(t, at, core.PaymentCash, line(f.cola.ID, 1))

	modes, err := f.reports.PaymentModes(context.Background(), f.rest.ID, 2024)
	require.NoError(t, err)
	require.Len(t, modes, 2)
	assert.Equal(t, "UPI", modes[0].Label)
	assert.Equal(t, "20", modes[0].Value.String())
	assert.Equal(t, "Cash", modes[1].Label)
	assert.Equal(t, "6", modes[1].Value.String())
}

func TestOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

	f.order(t, at, core.PaymentCard, line(f.marg.ID, 2))
	_, err := f.records.RecordExpense(ctx, core.Expense{
		RestaurantID: f.rest.ID, Date: at, Description: "Flour", Category: "Food",
		Amount: decimal.RequireFromString("5.25"),
	})
	require.NoError(t, err)

	ov, err := f.reports.Overview(ctx, f.rest.ID, 2024, time.March)
	require.NoError(t, err)
	assert.Equal(t, "Trattoria", ov.Restaurant)
	assert.Len(t, ov.Profit, 12)
	assert.Equal(t, "11.75", ov.Profit[2].Total.String())
	assert.Len(t, ov.Weekly, 5)
	assert.Equal(t, json.Number("17.00"), ov.TotalRevenue)
	assert.Equal(t, json.Number("5.25"), ov.TotalExpenses)
	assert.Equal(t, json.Number("11.75"), ov.NetProfit)

	body, err := json.Marshal(ov)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"total_revenue":17.00`)
	assert.Contains(t, string(body), `{"name":"Mar","total":17}`)
}

func TestReports_UnknownRestaurant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reports.MonthlyRevenue(ctx, 999, 2024)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.reports.TopItems(ctx, 999, 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.reports.Overview(ctx, 999, 2024, time.January)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReports_CachedUntilInvalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	f.order(t, at, core.PaymentCash, line(f.cola.ID, 1))

	_, err := f.reports.MonthlyRevenue(ctx, f.rest.ID, 2024)
	require.NoError(t, err)
	calls := f.store.listOrdersCalls

	_, err = f.reports.MonthlyRevenue(ctx, f.rest.ID, 2024)
	require.NoError(t, err)
	assert.Equal(t, calls, f.store.listOrdersCalls, "second call should be served from cache")

	f.order(t, at, core.PaymentCash, line(f.cola.ID, 1))
	series, err := f.reports.MonthlyRevenue(ctx, f.rest.ID, 2024)
	require.NoError(t, err)
	assert.Equal(t, calls+1, f.store.listOrdersCalls)
	assert.Equal(t, "6", series[3].Total.String())
}

func TestReports_ErrorsAreNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("disk on fire")

	f.store.failOrders = boom
	_, err := f.reports.MonthlyRevenue(ctx, f.rest.ID, 2024)
	require.ErrorIs(t, err, boom)

	f.store.failOrders = nil
	series, err := f.reports.MonthlyRevenue(ctx, f.rest.ID, 2024)
	require.NoError(t, err)
	assert.Len(t, series, 12)
}

func TestReports_WithoutCache(t *testing.T) {
	f := newFixture(t)
	svc := NewReportService(f.store, nil, discardLogger())
	svc.Invalidate(f.rest.ID)

	series, err := svc.MonthlyRevenue(context.Background(), f.rest.ID, 2024)
	require.NoError(t, err)
	assert.Len(t, series, 12)
}

func TestReports_InvalidateDuringLoadDoesNotCacheStaleResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	f.order(t, at, core.PaymentCash, line(f.cola.ID, 1))

	g := newGate()
	f.store.setOrdersGate(g)
	done := make(chan []analytics.SeriesPoint, 1)
	go func() {
		series, err := f.reports.MonthlyRevenue(ctx, f.rest.ID, 2024)
		assert.NoError(t, err)
		done <- series
	}()
	<-g.entered

	// The write lands while the load is holding rows read before it.
	f.store.setOrdersGate(nil)
	f.order(t, at, core.PaymentCash, line(f.cola.ID, 1))
	close(g.release)
	stale := <-done
	assert.Equal(t, "3", stale[3].Total.String())

	series, err := f.reports.MonthlyRevenue(ctx, f.rest.ID, 2024)
	require.NoError(t, err)
	assert.Equal(t, "6", series[3].Total.String())
}

func TestReports_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	f.order(t, at, core.PaymentCash, line(f.cola.ID, 1))

	g := newGate()
	f.store.setOrdersGate(g)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := f.reports.MonthlyRevenue(ctxA, f.rest.ID, 2024)
		errA <- err
	}()
	<-g.entered

	type result struct {
		series []analytics.SeriesPoint
		err    error
	}
	resB := make(chan result, 1)
	go func() {
		series, err := f.reports.MonthlyRevenue(context.Background(), f.rest.ID, 2024)
		resB <- result{series, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(g.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "3", b.series[3].Total.String())
}
