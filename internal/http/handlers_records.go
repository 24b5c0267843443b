package http

import (
	"encoding/json"
	"net/http"
	"time"

	"tavola/internal/core"
	"tavola/internal/log"

	"github.com/go-chi/chi/v5"
)

type restaurantRequest struct {
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}

type restaurantResponse struct {
	ID        core.RestaurantID `json:"id"`
	Name      string            `json:"name"`
	Timezone  string            `json:"timezone"`
	CreatedAt time.Time         `json:"created_at"`
}

func toRestaurantResponse(r core.Restaurant) restaurantResponse {
	return restaurantResponse{ID: r.ID, Name: r.Name, Timezone: r.Timezone, CreatedAt: r.CreatedAt}
}

type orderLineRequest struct {
	MenuItemID core.MenuItemID `json:"menu_item_id"`
	Quantity   int             `json:"quantity"`
}

type orderRequest struct {
	PaymentMode string             `json:"payment_mode"`
	CreatedAt   string             `json:"created_at"`
	Lines       []orderLineRequest `json:"lines"`
}

type orderLineResponse struct {
	MenuItemID core.MenuItemID `json:"menu_item_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  json.Number     `json:"unit_price"`
}

type orderResponse struct {
	ID          int64               `json:"id"`
	Ref         string              `json:"ref"`
	CreatedAt   time.Time           `json:"created_at"`
	Total       json.Number         `json:"total"`
	PaymentMode core.PaymentMode    `json:"payment_mode"`
	Lines       []orderLineResponse `json:"lines"`
}

type expenseRequest struct {
	Date        string     `json:"date"`
	Description string     `json:"description"`
	Amount      flexAmount `json:"amount"`
	Category    string     `json:"category"`
}

type expenseResponse struct {
	ID          int64       `json:"id"`
	Date        string      `json:"date"`
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	Category    string      `json:"category"`
}

type categoryRequest struct {
	Name string `json:"name"`
}

type categoryResponse struct {
	ID   core.CategoryID `json:"id"`
	Name string          `json:"name"`
}

type menuItemRequest struct {
	Name       string          `json:"name"`
	Price      flexAmount      `json:"price"`
	CategoryID core.CategoryID `json:"category_id"`
}

type menuItemResponse struct {
	ID         core.MenuItemID `json:"id"`
	Name       string          `json:"name"`
	Price      json.Number     `json:"price"`
	CategoryID core.CategoryID `json:"category_id"`
}

func toMenuItemResponse(m core.MenuItem) menuItemResponse {
	return menuItemResponse{
		ID:         m.ID,
		Name:       m.Name,
		Price:      json.Number(core.FormatAmount(m.Price)),
		CategoryID: m.CategoryID,
	}
}

func (s *Server) handleCreateRestaurant(w http.ResponseWriter, r *http.Request) {
	var req restaurantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	rest, err := s.records.CreateRestaurant(r.Context(), core.Restaurant{Name: req.Name, Timezone: req.Timezone})
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRestaurantResponse(rest))
}

func (s *Server) handleRecordOrder(w http.ResponseWriter, r *http.Request) {
	rid, err := restaurantIDParam(r)
	if err != nil {
		s.writeError(w, r, log.OpRecord, err)
		return
	}
	var req orderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpRecord, err)
		return
	}
	mode, err := core.ParsePaymentMode(req.PaymentMode)
	if err != nil {
		s.writeError(w, r, log.OpRecord, err)
		return
	}
	createdAt, err := parseInstant(req.CreatedAt)
	if err != nil {
		s.writeError(w, r, log.OpRecord, err)
		return
	}

	o := core.Order{RestaurantID: rid, PaymentMode: mode, CreatedAt: createdAt}
	for _, l := range req.Lines {
		o.Lines = append(o.Lines, core.OrderLine{MenuItemID: l.MenuItemID, Quantity: l.Quantity})
	}
	o, err = s.records.RecordOrder(r.Context(), o)
	if err != nil {
		s.writeError(w, r, log.OpRecord, err)
		return
	}

	resp := orderResponse{
		ID:          o.ID,
		Ref:         o.Ref,
		CreatedAt:   o.CreatedAt,
		Total:       json.Number(core.FormatAmount(o.Total)),
		PaymentMode: o.PaymentMode,
		Lines:       make([]orderLineResponse, len(o.Lines)),
	}
	for i, l := range o.Lines {
		resp.Lines[i] = orderLineResponse{
			MenuItemID: l.MenuItemID,
			Quantity:   l.Quantity,
			UnitPrice:  json.Number(core.FormatAmount(l.UnitPrice)),
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRecordExpense(w http.ResponseWriter, r *http.Request) {
	rid, err := restaurantIDParam(r)
	if err != nil {
		s.writeError(w, r, log.OpRecord, err)
		return
	}
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpRecord, err)
		return
	}
	amount, err := req.Amount.Decimal()
	if err != nil {
		s.writeError(w, r, log.OpRecord, err)
		return
	}
	date, err := parseDay(req.Date, s.now())
	if err != nil {
		s.writeError(w, r, log.OpRecord, err)
		return
	}

	e, err := s.records.RecordExpense(r.Context(), core.Expense{
		RestaurantID: rid,
		Date:         date,
		Description:  req.Description,
		Amount:       amount,
		Category:     req.Category,
	})
	if err != nil {
		s.writeError(w, r, log.OpRecord, err)
		return
	}
	writeJSON(w, http.StatusCreated, expenseResponse{
		ID:          e.ID,
		Date:        e.Date.Format(time.DateOnly),
		Description: e.Description,
		Amount:      json.Number(core.FormatAmount(e.Amount)),
		Category:    e.Category,
	})
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	rid, err := restaurantIDParam(r)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	c, err := s.records.CreateCategory(r.Context(), core.Category{RestaurantID: rid, Name: req.Name})
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, categoryResponse{ID: c.ID, Name: c.Name})
}

func (s *Server) handleCreateMenuItem(w http.ResponseWriter, r *http.Request) {
	rid, err := restaurantIDParam(r)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	var req menuItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	price, err := req.Price.Decimal()
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	m, err := s.records.CreateMenuItem(r.Context(), core.MenuItem{
		RestaurantID: rid,
		CategoryID:   req.CategoryID,
		Name:         req.Name,
		Price:        price,
	})
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMenuItemResponse(m))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	rid, err := restaurantIDParam(r)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	id, err := core.ParseCategoryID(chi.URLParam(r, "categoryID"))
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.records.DeleteCategory(r.Context(), rid, id); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMenuItem(w http.ResponseWriter, r *http.Request) {
	rid, err := restaurantIDParam(r)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	id, err := core.ParseMenuItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.records.DeleteMenuItem(r.Context(), rid, id); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
