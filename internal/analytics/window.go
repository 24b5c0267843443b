package analytics

import "time"

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// YearWindow covers the calendar year in loc. A nil loc means UTC.
func YearWindow(year int, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(1, 0, 0)}
}

// MonthWindow covers one calendar month in loc. A nil loc means UTC.
func MonthWindow(year int, month time.Month, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 1, 0)}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Filter returns the records inside the window, each converted to the
// window's location so bucketing happens in the reporting zone.
func (w Window) Filter(records []TimedAmount) []TimedAmount {
	loc := w.Start.Location()
	out := make([]TimedAmount, 0, len(records))
	for _, r := range records {
		if !w.Contains(r.Timestamp) {
			continue
		}
		out = append(out, TimedAmount{Timestamp: r.Timestamp.In(loc), Amount: r.Amount})
	}
	return out
}
