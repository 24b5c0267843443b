package analytics

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// SeriesPoint is one labelled bucket of a materialized series.
type SeriesPoint struct {
	Label string
	Total decimal.Decimal
}

type seriesPointJSON struct {
	Name  string      `json:"name"`
	Total json.Number `json:"total"`
}

// MarshalJSON emits {"name": label, "total": number}. The total keeps the
// exact decimal text instead of passing through float64.
func (p SeriesPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(seriesPointJSON{Name: p.Label, Total: json.Number(p.Total.String())})
}

func (p *SeriesPoint) UnmarshalJSON(data []byte) error {
	var raw seriesPointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	total := decimal.Zero
	if raw.Total != "" {
		d, err := decimal.NewFromString(raw.Total.String())
		if err != nil {
			return fmt.Errorf("series point %q total: %w", raw.Name, err)
		}
		total = d
	}
	p.Label = raw.Name
	p.Total = total
	return nil
}

// Materialize expands sparse bucket sums into the scheme's full ordered
// series. Missing buckets are zero; keys outside the scheme are ignored.
func Materialize(sums map[BucketKey]decimal.Decimal, scheme Scheme) []SeriesPoint {
	keys := scheme.Buckets()
	out := make([]SeriesPoint, len(keys))
	for i, key := range keys {
		total, ok := sums[key]
		if !ok {
			total = decimal.Zero
		}
		out[i] = SeriesPoint{Label: scheme.Label(key), Total: total}
	}
	return out
}

// MonthlySeries is the twelve-point Jan..Dec series of records falling in year.
func MonthlySeries(records []TimedAmount, window Window) []SeriesPoint {
	return Materialize(Aggregate(window.Filter(records), MonthOfYear), MonthOfYear)
}

// WeeklySeries is the five-point week-of-month series for a single month
// window. Records outside the window are dropped before bucketing.
func WeeklySeries(records []TimedAmount, window Window) []SeriesPoint {
	return Materialize(Aggregate(window.Filter(records), WeekOfMonth), WeekOfMonth)
}

// SeriesTotal sums the totals of a series.
func SeriesTotal(points []SeriesPoint) decimal.Decimal {
	total := decimal.Zero
	for _, p := range points {
		total = total.Add(p.Total)
	}
	return total
}

// Difference subtracts b from a point by point. Both series must come from
// the same scheme; the labels of a are kept.
func Difference(a, b []SeriesPoint) []SeriesPoint {
	out := make([]SeriesPoint, len(a))
	for i, p := range a {
		out[i] = SeriesPoint{Label: p.Label, Total: p.Total}
		if i < len(b) {
			out[i].Total = p.Total.Sub(b[i].Total)
		}
	}
	return out
}
