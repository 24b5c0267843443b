package http

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"time"

	"tavola/internal/core"
	"tavola/internal/log"
	"tavola/internal/services"

	"github.com/shopspring/decimal"
)

var templateFuncs = template.FuncMap{
	"amount": func(d decimal.Decimal) string { return core.FormatAmount(d) },
	"monthName": func(m int) string {
		if m < 1 || m > 12 {
			return ""
		}
		return time.Month(m).String()
	},
}

type indexPage struct {
	Restaurants []core.Restaurant
}

type dashboardPage struct {
	Restaurant core.Restaurant
	Overview   services.Overview
	Revenue    decimal.Decimal
	Expenses   decimal.Decimal
	Profit     decimal.Decimal
	PrevYear   int
	NextYear   int
}

// render executes a template into a buffer first so a failing template never
// leaves a half-written page.
func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	if s.templates == nil {
		http.Error(w, "templates unavailable", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.NewStructuredLogger(log.FromContext(r.Context())).LogError(r.Context(), "Template render failed", err,
			log.ComponentTemplate, log.OpRender, log.NewFields())
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	restaurants, err := s.directory.ListRestaurants(r.Context())
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	s.render(w, r, "index.html", indexPage{Restaurants: restaurants})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	rid, err := restaurantIDParam(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	rest, err := s.directory.GetRestaurant(r.Context(), rid)
	if err != nil {
		status, _ := statusFor(err)
		if status == http.StatusNotFound {
			http.NotFound(w, r)
			return
		}
		s.writeError(w, r, log.OpRead, err)
		return
	}

	p := ParsePeriodParams(r.URL.Query(), s.now().In(rest.Location()))
	ctx, cancel := context.WithTimeout(r.Context(), reportTimeout)
	defer cancel()
	ov, err := s.reports.Overview(ctx, rid, p.Year, p.Month)
	if err != nil {
		s.writeError(w, r, services.ReportOverview, err)
		return
	}

	page := dashboardPage{
		Restaurant: rest,
		Overview:   ov,
		PrevYear:   p.Year - 1,
		NextYear:   p.Year + 1,
	}
	page.Revenue, _ = decimal.NewFromString(ov.TotalRevenue.String())
	page.Expenses, _ = decimal.NewFromString(ov.TotalExpenses.String())
	page.Profit, _ = decimal.NewFromString(ov.NetProfit.String())
	s.render(w, r, "dashboard.html", page)
}

func (s *Server) handleListRestaurants(w http.ResponseWriter, r *http.Request) {
	restaurants, err := s.directory.ListRestaurants(r.Context())
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	out := make([]restaurantResponse, len(restaurants))
	for i, rest := range restaurants {
		out[i] = toRestaurantResponse(rest)
	}
	writeJSON(w, http.StatusOK, out)
}

type menuResponse struct {
	Categories []categoryResponse `json:"categories"`
	Items      []menuItemResponse `json:"items"`
}

func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	rid, err := restaurantIDParam(r)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	ctx := r.Context()
	if _, err := s.directory.GetRestaurant(ctx, rid); err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	categories, err := s.directory.ListCategories(ctx, rid)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	items, err := s.directory.ListMenuItems(ctx, rid)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}

	out := menuResponse{
		Categories: make([]categoryResponse, len(categories)),
		Items:      make([]menuItemResponse, len(items)),
	}
	for i, c := range categories {
		out.Categories[i] = categoryResponse{ID: c.ID, Name: c.Name}
	}
	for i, m := range items {
		out.Items[i] = toMenuItemResponse(m)
	}
	writeJSON(w, http.StatusOK, out)
}
