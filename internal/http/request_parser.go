package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tavola/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const (
	defaultTopN  = 5
	maxTopN      = 50
	maxBodyBytes = 1 << 20
	minYear      = 1970
	maxYear      = 9999
)

// PeriodParams holds the reporting period taken from the query string.
type PeriodParams struct {
	Year  int
	Month time.Month
	// MonthCorrected is set when a month outside 1..12 was replaced.
	MonthCorrected bool
}

// ParsePeriodParams reads year and month, falling back to the period of now
// for anything missing or malformed.
func ParsePeriodParams(query url.Values, now time.Time) PeriodParams {
	params := PeriodParams{Year: now.Year(), Month: now.Month()}

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil && y >= minYear && y <= maxYear {
			params.Year = y
		}
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		switch {
		case err != nil:
		case m < 1 || m > 12:
			params.MonthCorrected = true
		default:
			params.Month = time.Month(m)
		}
	}
	return params
}

// ParseTopN reads n, defaulting to 5 and capping at 50.
func ParseTopN(query url.Values) int {
	n, err := strconv.Atoi(strings.TrimSpace(query.Get("n")))
	if err != nil || n < 1 {
		return defaultTopN
	}
	if n > maxTopN {
		return maxTopN
	}
	return n
}

func restaurantIDParam(r *http.Request) (core.RestaurantID, error) {
	return core.ParseRestaurantID(chi.URLParam(r, "restaurantID"))
}

// errBadBody marks request bodies that could not be decoded at all.
var errBadBody = errors.New("malformed request body")

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", errBadBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", errBadBody)
	}
	return nil
}

// flexAmount accepts 12.5, "12.50" or "12,50".
type flexAmount struct {
	raw string
}

func (a *flexAmount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.raw = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("amount must be a number or string")
	}
	a.raw = n.String()
	return nil
}

func (a flexAmount) Decimal() (decimal.Decimal, error) {
	return core.ParseAmount(a.raw)
}

// parseDay accepts YYYY-MM-DD; an empty value means today.
func parseDay(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, core.ErrInvalidDate
	}
	return t, nil
}

// parseInstant accepts RFC 3339; an empty value leaves the time unset.
func parseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, core.ErrInvalidDate
	}
	return t, nil
}
