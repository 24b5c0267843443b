package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"tavola/internal/analytics"
	"tavola/internal/core"
	"tavola/internal/log"
	"tavola/internal/services"

	"github.com/go-chi/chi/v5"
)

// serveReport runs load under the report timeout and writes its result.
func serveReport[T any](s *Server, w http.ResponseWriter, r *http.Request, report string, load func(context.Context, core.RestaurantID) (T, error)) {
	rid, err := restaurantIDParam(r)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), reportTimeout)
	defer cancel()

	out, err := load(ctx, rid)
	if err != nil {
		s.writeError(w, r, report, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// period parses year and month, logging a corrected month.
func (s *Server) period(r *http.Request) PeriodParams {
	p := ParsePeriodParams(r.URL.Query(), s.now())
	if p.MonthCorrected {
		log.FromContext(r.Context()).InfoContext(r.Context(), "Month out of range, using current month",
			log.FieldQuery, r.URL.RawQuery, log.FieldMonth, int(p.Month))
	}
	return p
}

func (s *Server) handleMonthlyRevenue(w http.ResponseWriter, r *http.Request) {
	p := s.period(r)
	serveReport(s, w, r, services.ReportMonthlyRevenue, func(ctx context.Context, rid core.RestaurantID) ([]analytics.SeriesPoint, error) {
		return s.reports.MonthlyRevenue(ctx, rid, p.Year)
	})
}

func (s *Server) handleMonthlyExpenses(w http.ResponseWriter, r *http.Request) {
	p := s.period(r)
	serveReport(s, w, r, services.ReportMonthlyExpenses, func(ctx context.Context, rid core.RestaurantID) ([]analytics.SeriesPoint, error) {
		return s.reports.MonthlyExpenses(ctx, rid, p.Year)
	})
}

func (s *Server) handleWeeklyRevenue(w http.ResponseWriter, r *http.Request) {
	p := s.period(r)
	serveReport(s, w, r, services.ReportWeeklyRevenue, func(ctx context.Context, rid core.RestaurantID) ([]analytics.SeriesPoint, error) {
		return s.reports.WeeklyRevenue(ctx, rid, p.Year, p.Month)
	})
}

func (s *Server) handleTopCategories(w http.ResponseWriter, r *http.Request) {
	n := ParseTopN(r.URL.Query())
	serveReport(s, w, r, services.ReportTopCategories, func(ctx context.Context, rid core.RestaurantID) ([]analytics.RankedEntry, error) {
		return s.reports.TopCategories(ctx, rid, n)
	})
}

func (s *Server) handleTopItems(w http.ResponseWriter, r *http.Request) {
	n := ParseTopN(r.URL.Query())
	serveReport(s, w, r, services.ReportTopItems, func(ctx context.Context, rid core.RestaurantID) ([]analytics.RankedEntry, error) {
		return s.reports.TopItems(ctx, rid, n)
	})
}

func (s *Server) handlePopularDays(w http.ResponseWriter, r *http.Request) {
	serveReport(s, w, r, services.ReportPopularDays, func(ctx context.Context, rid core.RestaurantID) ([]analytics.RankedEntry, error) {
		return s.reports.PopularDays(ctx, rid)
	})
}

func (s *Server) handlePaymentModes(w http.ResponseWriter, r *http.Request) {
	p := s.period(r)
	serveReport(s, w, r, services.ReportPaymentModes, func(ctx context.Context, rid core.RestaurantID) ([]analytics.RankedEntry, error) {
		return s.reports.PaymentModes(ctx, rid, p.Year)
	})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	p := s.period(r)
	serveReport(s, w, r, services.ReportOverview, func(ctx context.Context, rid core.RestaurantID) (services.Overview, error) {
		return s.reports.Overview(ctx, rid, p.Year, p.Month)
	})
}

// handleSnapshot serves the stored annual report; unlike the live reports an
// invalid year is a 404, not a fallback.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(strings.TrimSpace(chi.URLParam(r, "year")))
	if err != nil || year < minYear || year > maxYear {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	serveReport(s, w, r, services.SnapshotAnnual, func(ctx context.Context, rid core.RestaurantID) (services.AnnualReport, error) {
		return s.reports.Snapshot(ctx, rid, year)
	})
}
