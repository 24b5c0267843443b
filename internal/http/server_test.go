package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tavola/internal/analytics"
	"tavola/internal/cache"
	"tavola/internal/core"
	"tavola/internal/log"
	"tavola/internal/services"
	"tavola/internal/storage"

	"github.com/shopspring/decimal"
)

type testEnv struct {
	srv  *Server
	repo *storage.SQLiteRepository
	rest core.Restaurant
	item core.MenuItem
	cat  core.Category
}

func newTestEnv(t *testing.T, ratePerMinute int) *testEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "tavola.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	logger := log.New(log.Config{Output: io.Discard})
	lru := cache.NewLRUCache[any](100, time.Minute)
	reports := services.NewReportService(repo, lru, logger)
	records := services.NewRecordService(repo, nil, reports, logger)

	srv := NewServer(Options{
		Addr:               ":0",
		RateLimitPerMinute: ratePerMinute,
		Reports:            reports,
		Records:            records,
		Directory:          repo,
		CacheStats:         lru.Stats,
		Logger:             logger,
	})
	srv.now = func() time.Time { return time.Date(2024, time.March, 20, 10, 0, 0, 0, time.UTC) }
	t.Cleanup(srv.limiter.Stop)

	ctx := context.Background()
	rest, err := records.CreateRestaurant(ctx, core.Restaurant{Name: "Trattoria", Timezone: "Europe/Rome"})
	if err != nil {
		t.Fatalf("create restaurant: %v", err)
	}
	cat, err := records.CreateCategory(ctx, core.Category{RestaurantID: rest.ID, Name: "Pizza"})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	item, err := records.CreateMenuItem(ctx, core.MenuItem{
		RestaurantID: rest.ID, CategoryID: cat.ID, Name: "Margherita", Price: decimal.RequireFromString("8.50"),
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return &testEnv{srv: srv, repo: repo, rest: rest, item: item, cat: cat}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "203.0.113.7:4321"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) api(path string) string {
	return "/api/restaurants/" + e.rest.ID.String() + path
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthReadyAndMetrics(t *testing.T) {
	env := newTestEnv(t, 60)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := env.do(t, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body.String())
		}
	}

	rr := env.do(t, http.MethodGet, "/metrics", "")
	m := decodeBody[map[string]json.RawMessage](t, rr)
	for _, key := range []string{"cache", "http", "rate_limit", "security"} {
		if _, ok := m[key]; !ok {
			t.Errorf("metrics missing %q: %s", key, rr.Body.String())
		}
	}
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, 60)

	rr := env.do(t, http.MethodGet, "/healthz", "")
	if id := rr.Header().Get("X-Request-ID"); !strings.HasPrefix(id, "req_") {
		t.Errorf("request id = %q", id)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := rr.Header().Get("Content-Security-Policy"); !strings.Contains(got, "default-src 'self'") {
		t.Errorf("CSP = %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("incoming request id not kept: %q", got)
	}
}

func TestBlockedMethod(t *testing.T) {
	env := newTestEnv(t, 60)
	rr := env.do(t, "TRACE", "/healthz", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := env.srv.detector.GetMetrics().BlockedRequests; got != 1 {
		t.Errorf("blocked = %d", got)
	}
}

func TestPagesAndStatic(t *testing.T) {
	env := newTestEnv(t, 60)

	rr := env.do(t, http.MethodGet, "/", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Trattoria") {
		t.Fatalf("index status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/r/"+env.rest.ID.String()+"?year=2024&month=3", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	for _, want := range []string{"Trattoria", "March 2024", "0.00", `data-restaurant="` + env.rest.ID.String() + `"`} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}

	if rr := env.do(t, http.MethodGet, "/r/999", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown dashboard status=%d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/static/dashboard.js", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("static status=%d", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); got != "public, max-age=3600" {
		t.Errorf("static Cache-Control = %q", got)
	}
}

func TestRestaurantsAndMenu(t *testing.T) {
	env := newTestEnv(t, 60)

	rr := env.do(t, http.MethodPost, "/api/restaurants/", `{"name":"Osteria","timezone":"Europe/Paris"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodPost, "/api/restaurants/", `{"name":"X","timezone":"Mars/Base"}`); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad timezone status=%d", rr.Code)
	}

	list := decodeBody[[]restaurantResponse](t, env.do(t, http.MethodGet, "/api/restaurants/", ""))
	if len(list) != 2 {
		t.Fatalf("restaurants = %+v", list)
	}

	menu := decodeBody[menuResponse](t, env.do(t, http.MethodGet, env.api("/menu"), ""))
	if len(menu.Categories) != 1 || len(menu.Items) != 1 {
		t.Fatalf("menu = %+v", menu)
	}
	if menu.Items[0].Price != "8.50" || menu.Items[0].CategoryID != env.cat.ID {
		t.Errorf("item = %+v", menu.Items[0])
	}

	if rr := env.do(t, http.MethodGet, "/api/restaurants/999/menu", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown restaurant menu status=%d", rr.Code)
	}
}

func TestRecordOrderFeedsReports(t *testing.T) {
	env := newTestEnv(t, 60)

	// Warm the cache so the write has something to invalidate.
	before := decodeBody[[]analytics.SeriesPoint](t, env.do(t, http.MethodGet, env.api("/revenue/monthly?year=2024"), ""))
	if len(before) != 12 || !analytics.SeriesTotal(before).IsZero() {
		t.Fatalf("empty year = %+v", before)
	}

	body := `{"payment_mode":"Card","created_at":"2024-03-15T12:00:00Z","lines":[{"menu_item_id":` +
		env.item.ID.String() + `,"quantity":2}]}`
	rr := env.do(t, http.MethodPost, env.api("/orders"), body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("order status=%d body=%s", rr.Code, rr.Body.String())
	}
	o := decodeBody[orderResponse](t, rr)
	if o.Total != "17.00" || o.PaymentMode != core.PaymentCard || o.Ref == "" {
		t.Errorf("order = %+v", o)
	}
	if len(o.Lines) != 1 || o.Lines[0].UnitPrice != "8.50" {
		t.Errorf("lines = %+v", o.Lines)
	}

	monthly := decodeBody[[]analytics.SeriesPoint](t, env.do(t, http.MethodGet, env.api("/revenue/monthly?year=2024"), ""))
	if monthly[2].Label != "Mar" || !monthly[2].Total.Equal(decimal.NewFromInt(17)) {
		t.Errorf("march = %+v", monthly[2])
	}

	weekly := decodeBody[[]analytics.SeriesPoint](t, env.do(t, http.MethodGet, env.api("/revenue/weekly?year=2024&month=3"), ""))
	if !analytics.SeriesTotal(weekly).Equal(decimal.NewFromInt(17)) {
		t.Errorf("weekly = %+v", weekly)
	}

	items := decodeBody[[]analytics.RankedEntry](t, env.do(t, http.MethodGet, env.api("/items/top?n=3"), ""))
	if len(items) != 1 || items[0].Label != "Margherita" || !items[0].Value.Equal(decimal.NewFromInt(2)) {
		t.Errorf("top items = %+v", items)
	}

	cats := decodeBody[[]analytics.RankedEntry](t, env.do(t, http.MethodGet, env.api("/categories/top"), ""))
	if len(cats) != 1 || cats[0].Label != "Pizza" {
		t.Errorf("top categories = %+v", cats)
	}

	days := decodeBody[[]analytics.RankedEntry](t, env.do(t, http.MethodGet, env.api("/days/popular"), ""))
	if len(days) != 1 || days[0].Label != "Friday" {
		t.Errorf("popular days = %+v", days)
	}

	modes := decodeBody[[]analytics.RankedEntry](t, env.do(t, http.MethodGet, env.api("/payment-modes?year=2024"), ""))
	if len(modes) != 1 || modes[0].Label != "Card" || !modes[0].Value.Equal(decimal.NewFromInt(17)) {
		t.Errorf("payment modes = %+v", modes)
	}

	ov := decodeBody[services.Overview](t, env.do(t, http.MethodGet, env.api("/overview?year=2024&month=3"), ""))
	if ov.Year != 2024 || ov.Month != 3 || ov.TotalRevenue.String() != "17.00" {
		t.Errorf("overview = %+v", ov)
	}
}

func TestRecordOrderErrors(t *testing.T) {
	env := newTestEnv(t, 60)
	line := `"lines":[{"menu_item_id":` + env.item.ID.String() + `,"quantity":1}]`

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown restaurant", "/api/restaurants/999/orders", `{"payment_mode":"cash",` + line + `}`, http.StatusNotFound},
		{"bad restaurant id", "/api/restaurants/abc/orders", `{"payment_mode":"cash",` + line + `}`, http.StatusNotFound},
		{"bad payment mode", env.api("/orders"), `{"payment_mode":"barter",` + line + `}`, http.StatusUnprocessableEntity},
		{"no lines", env.api("/orders"), `{"payment_mode":"cash","lines":[]}`, http.StatusUnprocessableEntity},
		{"zero quantity", env.api("/orders"), `{"payment_mode":"cash","lines":[{"menu_item_id":` + env.item.ID.String() + `,"quantity":0}]}`, http.StatusUnprocessableEntity},
		{"foreign item", env.api("/orders"), `{"payment_mode":"cash","lines":[{"menu_item_id":424242,"quantity":1}]}`, http.StatusUnprocessableEntity},
		{"bad timestamp", env.api("/orders"), `{"payment_mode":"cash","created_at":"yesterday",` + line + `}`, http.StatusUnprocessableEntity},
		{"malformed", env.api("/orders"), `{"payment_mode":`, http.StatusBadRequest},
		{"unknown field", env.api("/orders"), `{"payment_mode":"cash","tip":3,` + line + `}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
			if e := decodeBody[errorBody](t, rr); e.Error == "" {
				t.Errorf("missing error message")
			}
		})
	}
}

func TestRecordExpense(t *testing.T) {
	env := newTestEnv(t, 60)

	rr := env.do(t, http.MethodPost, env.api("/expenses"),
		`{"date":"2024-03-02","description":"Flour","amount":"12,345","category":"Supplies"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	e := decodeBody[expenseResponse](t, rr)
	if e.Amount != "12.35" || e.Date != "2024-03-02" {
		t.Errorf("expense = %+v", e)
	}

	rr = env.do(t, http.MethodPost, env.api("/expenses"),
		`{"date":"2024-03-03","description":"Gas","amount":40,"category":"Utilities"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("numeric amount status=%d body=%s", rr.Code, rr.Body.String())
	}

	monthly := decodeBody[[]analytics.SeriesPoint](t, env.do(t, http.MethodGet, env.api("/expenses/monthly?year=2024"), ""))
	if !monthly[2].Total.Equal(decimal.RequireFromString("52.35")) {
		t.Errorf("march expenses = %+v", monthly[2])
	}

	for _, body := range []string{
		`{"date":"2024-03-02","description":"Flour","amount":"-3","category":"Supplies"}`,
		`{"date":"2024-03-02","description":"Flour","amount":"0.001","category":"Supplies"}`,
		`{"date":"2024-03-02","description":"","amount":"3","category":"Supplies"}`,
		`{"date":"02/03/2024","description":"Flour","amount":"3","category":"Supplies"}`,
	} {
		if rr := env.do(t, http.MethodPost, env.api("/expenses"), body); rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: status=%d", body, rr.Code)
		}
	}
}

func TestCatalogWrites(t *testing.T) {
	env := newTestEnv(t, 60)

	rr := env.do(t, http.MethodPost, env.api("/categories"), `{"name":"Drinks"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("category status=%d body=%s", rr.Code, rr.Body.String())
	}
	drinks := decodeBody[categoryResponse](t, rr)

	rr = env.do(t, http.MethodPost, env.api("/menu-items"),
		`{"name":"Cola","price":3,"category_id":`+drinks.ID.String()+`}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("item status=%d body=%s", rr.Code, rr.Body.String())
	}
	cola := decodeBody[menuItemResponse](t, rr)
	if cola.Price != "3.00" {
		t.Errorf("price = %s", cola.Price)
	}

	rr = env.do(t, http.MethodPost, env.api("/categories"), `{"name":"Pizza"}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate category status=%d body=%s", rr.Code, rr.Body.String())
	}

	if rr := env.do(t, http.MethodPost, env.api("/menu-items"), `{"name":"Ghost","price":"2","category_id":999}`); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("foreign category status=%d", rr.Code)
	}

	if rr := env.do(t, http.MethodDelete, env.api("/categories/"+drinks.ID.String()), ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete category status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, env.api("/categories/"+drinks.ID.String()), ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, env.api("/menu-items/"+cola.ID.String()), ""); rr.Code != http.StatusNoContent {
		t.Errorf("delete item status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, env.api("/menu-items/nope"), ""); rr.Code != http.StatusNotFound {
		t.Errorf("bad item id status=%d", rr.Code)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	env := newTestEnv(t, 60)

	if rr := env.do(t, http.MethodGet, env.api("/snapshots/2024"), ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing snapshot status=%d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, env.api("/snapshots/twenty"), ""); rr.Code != http.StatusNotFound {
		t.Errorf("bad year status=%d", rr.Code)
	}
}

func TestReportsUnknownRestaurant(t *testing.T) {
	env := newTestEnv(t, 60)
	for _, path := range []string{"/revenue/monthly", "/items/top", "/days/popular", "/overview"} {
		rr := env.do(t, http.MethodGet, "/api/restaurants/999"+path, "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s status=%d", path, rr.Code)
		}
	}
}

func TestWriteRoutesAreRateLimited(t *testing.T) {
	env := newTestEnv(t, 1)

	if rr := env.do(t, http.MethodPost, env.api("/categories"), `{"name":"A"}`); rr.Code != http.StatusCreated {
		t.Fatalf("first status=%d", rr.Code)
	}
	rr := env.do(t, http.MethodPost, env.api("/categories"), `{"name":"B"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second status=%d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}

	// Reads are not limited.
	for i := 0; i < 3; i++ {
		if rr := env.do(t, http.MethodGet, env.api("/menu"), ""); rr.Code != http.StatusOK {
			t.Fatalf("read %d status=%d", i, rr.Code)
		}
	}
}

func TestParsePeriodParams(t *testing.T) {
	now := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		query     string
		year      int
		month     time.Month
		corrected bool
	}{
		{"", 2024, time.June, false},
		{"year=2023&month=2", 2023, time.February, false},
		{"year=abc&month=x", 2024, time.June, false},
		{"year=12", 2024, time.June, false},
		{"month=13", 2024, time.June, true},
		{"month=0", 2024, time.June, true},
	}
	for _, tt := range tests {
		q, _ := url.ParseQuery(tt.query)
		p := ParsePeriodParams(q, now)
		if p.Year != tt.year || p.Month != tt.month || p.MonthCorrected != tt.corrected {
			t.Errorf("%q: got %+v", tt.query, p)
		}
	}
}

func TestParseTopN(t *testing.T) {
	tests := map[string]int{"": 5, "n=3": 3, "n=0": 5, "n=-2": 5, "n=abc": 5, "n=500": 50}
	for query, want := range tests {
		q, _ := url.ParseQuery(query)
		if got := ParseTopN(q); got != want {
			t.Errorf("%q: got %d want %d", query, got, want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{fmt.Errorf("restaurant 9: %w", storage.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("category %q: %w", "Pizza", storage.ErrConflict), http.StatusConflict},
		{fmt.Errorf("amount: %w", core.ErrInvalidAmount), http.StatusUnprocessableEntity},
		{fmt.Errorf("monthly revenue: %w", context.Canceled), statusClientClosedRequest},
		{fmt.Errorf("overview: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	} {
		if got, _ := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
