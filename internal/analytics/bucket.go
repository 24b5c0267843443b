// Package analytics turns timestamped amounts into chart-ready series.
//
// Records are assigned to calendar buckets, summed per bucket with decimal
// arithmetic and then expanded into fixed-length, zero-filled series. Grouped
// counts can be ranked into top-N lists. Every function in this package is
// pure: inputs are never mutated and results are freshly allocated, so the
// package is safe for concurrent use.
package analytics

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Scheme selects how a timestamp maps onto a bucket.
type Scheme int

const (
	// MonthOfYear buckets by calendar month, 0 (January) through 11 (December).
	MonthOfYear Scheme = iota
	// WeekOfMonth buckets by fixed seven-day slices of the month, 1 through 5.
	WeekOfMonth
)

// BucketKey identifies a time slot under a Scheme.
type BucketKey int

// TimedAmount is a monetary value observed at a point in time.
type TimedAmount struct {
	Timestamp time.Time
	Amount    decimal.Decimal
}

var monthLabels = [12]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// AssignBucket maps t to its bucket under scheme. The timestamp is read in
// its own location; callers convert to the reporting zone beforehand.
func AssignBucket(t time.Time, scheme Scheme) BucketKey {
	switch scheme {
	case WeekOfMonth:
		return BucketKey((t.Day()-1)/7 + 1)
	default:
		return BucketKey(int(t.Month()) - 1)
	}
}

// Buckets returns the canonical, ordered bucket keys of the scheme.
func (s Scheme) Buckets() []BucketKey {
	switch s {
	case WeekOfMonth:
		return []BucketKey{1, 2, 3, 4, 5}
	default:
		keys := make([]BucketKey, len(monthLabels))
		for i := range keys {
			keys[i] = BucketKey(i)
		}
		return keys
	}
}

// Label returns the display label for key under the scheme.
func (s Scheme) Label(key BucketKey) string {
	switch s {
	case WeekOfMonth:
		return "Week " + strconv.Itoa(int(key))
	default:
		if key < 0 || int(key) >= len(monthLabels) {
			return ""
		}
		return monthLabels[key]
	}
}

func (s Scheme) String() string {
	switch s {
	case WeekOfMonth:
		return "week_of_month"
	default:
		return "month_of_year"
	}
}
