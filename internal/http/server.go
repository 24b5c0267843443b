package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"tavola/internal/analytics"
	"tavola/internal/cache"
	"tavola/internal/core"
	"tavola/internal/log"
	"tavola/internal/middleware/ratelimit"
	"tavola/internal/middleware/security"
	"tavola/internal/middleware/trace"
	"tavola/internal/services"
	appweb "tavola/web"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// reportTimeout bounds every report computation started by a request.
const reportTimeout = 7 * time.Second

// Reports is the read side used by the handlers.
type Reports interface {
	MonthlyRevenue(ctx context.Context, rid core.RestaurantID, year int) ([]analytics.SeriesPoint, error)
	MonthlyExpenses(ctx context.Context, rid core.RestaurantID, year int) ([]analytics.SeriesPoint, error)
	WeeklyRevenue(ctx context.Context, rid core.RestaurantID, year int, month time.Month) ([]analytics.SeriesPoint, error)
	TopCategories(ctx context.Context, rid core.RestaurantID, n int) ([]analytics.RankedEntry, error)
	TopItems(ctx context.Context, rid core.RestaurantID, n int) ([]analytics.RankedEntry, error)
	PopularDays(ctx context.Context, rid core.RestaurantID) ([]analytics.RankedEntry, error)
	PaymentModes(ctx context.Context, rid core.RestaurantID, year int) ([]analytics.RankedEntry, error)
	Overview(ctx context.Context, rid core.RestaurantID, year int, month time.Month) (services.Overview, error)
	Snapshot(ctx context.Context, rid core.RestaurantID, year int) (services.AnnualReport, error)
}

// Records is the write side used by the handlers.
type Records interface {
	CreateRestaurant(ctx context.Context, r core.Restaurant) (core.Restaurant, error)
	RecordOrder(ctx context.Context, o core.Order) (core.Order, error)
	RecordExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	CreateMenuItem(ctx context.Context, m core.MenuItem) (core.MenuItem, error)
	DeleteCategory(ctx context.Context, rid core.RestaurantID, id core.CategoryID) error
	DeleteMenuItem(ctx context.Context, rid core.RestaurantID, id core.MenuItemID) error
}

// Directory lists tenants and their catalog.
type Directory interface {
	ListRestaurants(ctx context.Context) ([]core.Restaurant, error)
	GetRestaurant(ctx context.Context, id core.RestaurantID) (core.Restaurant, error)
	ListCategories(ctx context.Context, rid core.RestaurantID) ([]core.Category, error)
	ListMenuItems(ctx context.Context, rid core.RestaurantID) ([]core.MenuItem, error)
	Ping(ctx context.Context) error
}

type Options struct {
	Addr               string
	RateLimitPerMinute int
	Reports            Reports
	Records            Records
	Directory          Directory
	CacheStats         func() cache.Stats // optional
	TrustedProxies     []string           // CIDRs added to the private ranges
	Logger             *log.Logger
}

type Server struct {
	http.Server
	templates  *template.Template
	reports    Reports
	records    Records
	directory  Directory
	cacheStats func() cache.Stats
	logger     *log.Logger
	now        func() time.Time

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run server.
func NewServer(opts Options) *Server {
	logger := opts.Logger.WithComponent(log.ComponentHTTP)
	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", log.FieldError, err.Error())
		}
	}

	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		reports:    opts.Reports,
		records:    opts.Records,
		directory:  opts.Directory,
		cacheStats: opts.CacheStats,
		logger:     logger,
		now:        time.Now,
		limiter:    ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:   detector,
		tracer:     trace.NewMiddleware(opts.Logger, detector.ExtractClientIP),
	}

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Warn("Failed parsing templates", log.FieldError, err.Error())
	}
	s.templates = t

	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.tracer.Middleware)
	r.Use(reportPanics)
	r.Use(middleware.Recoverer)
	r.Use(s.detector.Middleware(s.logger))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(middleware.Compress(5))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		r.With(security.StaticAssetMiddleware(3600)).Handle("/static/*", static)
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err.Error())
	}

	r.Get("/", s.handleIndex)
	r.Get("/r/{restaurantID}", s.handleDashboard)

	limited := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldComponent, log.ComponentRateLimit, log.FieldPath, r.URL.Path)
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
	})

	r.Route("/api/restaurants", func(r chi.Router) {
		r.Get("/", s.handleListRestaurants)
		r.With(limited).Post("/", s.handleCreateRestaurant)

		r.Route("/{restaurantID}", func(r chi.Router) {
			r.Get("/menu", s.handleMenu)
			r.Get("/revenue/monthly", s.handleMonthlyRevenue)
			r.Get("/expenses/monthly", s.handleMonthlyExpenses)
			r.Get("/revenue/weekly", s.handleWeeklyRevenue)
			r.Get("/categories/top", s.handleTopCategories)
			r.Get("/items/top", s.handleTopItems)
			r.Get("/days/popular", s.handlePopularDays)
			r.Get("/payment-modes", s.handlePaymentModes)
			r.Get("/overview", s.handleOverview)
			r.Get("/snapshots/{year}", s.handleSnapshot)

			r.Group(func(r chi.Router) {
				r.Use(limited)
				r.Post("/orders", s.handleRecordOrder)
				r.Post("/expenses", s.handleRecordExpense)
				r.Post("/categories", s.handleCreateCategory)
				r.Delete("/categories/{categoryID}", s.handleDeleteCategory)
				r.Post("/menu-items", s.handleCreateMenuItem)
				r.Delete("/menu-items/{itemID}", s.handleDeleteMenuItem)
			})
		})
	})
	return r
}

// reportPanics sends panics to Sentry and lets the recoverer answer.
func reportPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec != http.ErrAbortHandler {
					hub := sentry.GetHubFromContext(r.Context())
					if hub == nil {
						hub = sentry.CurrentHub()
					}
					hub.RecoverWithContext(r.Context(), rec)
				}
				panic(rec)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops background goroutines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
