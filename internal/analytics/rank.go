package analytics

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// Fallback labels for keys whose display name can no longer be resolved.
const (
	UnknownCategory = "Unknown Category"
	UnknownItem     = "Unknown Item"
)

// Count pairs a grouping key with its accumulated value.
type Count[K comparable] struct {
	Key   K
	Value decimal.Decimal
}

// RankedEntry is one row of a top-N list.
type RankedEntry struct {
	Label string
	Value decimal.Decimal
}

type rankedEntryJSON struct {
	Name  string      `json:"name"`
	Value json.Number `json:"value"`
}

func (e RankedEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(rankedEntryJSON{Name: e.Label, Value: json.Number(e.Value.String())})
}

func (e *RankedEntry) UnmarshalJSON(data []byte) error {
	var raw rankedEntryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value := decimal.Zero
	if raw.Value != "" {
		d, err := decimal.NewFromString(raw.Value.String())
		if err != nil {
			return fmt.Errorf("ranked entry %q value: %w", raw.Name, err)
		}
		value = d
	}
	e.Label = raw.Name
	e.Value = value
	return nil
}

// Rank orders counts by descending value and keeps the first n. Equal values
// keep their input order. Keys that label cannot resolve are shown as
// fallback. A non-positive n yields an empty result.
func Rank[K comparable](counts []Count[K], n int, label func(K) (string, bool), fallback string) []RankedEntry {
	if n <= 0 || len(counts) == 0 {
		return []RankedEntry{}
	}

	sorted := slices.Clone(counts)
	slices.SortStableFunc(sorted, func(a, b Count[K]) int {
		return b.Value.Cmp(a.Value)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make([]RankedEntry, len(sorted))
	for i, c := range sorted {
		name, ok := "", false
		if label != nil {
			name, ok = label(c.Key)
		}
		if !ok {
			name = fallback
		}
		out[i] = RankedEntry{Label: name, Value: c.Value}
	}
	return out
}

// LabelMap adapts a lookup table to the label function Rank expects.
func LabelMap[K comparable](m map[K]string) func(K) (string, bool) {
	return func(k K) (string, bool) {
		name, ok := m[k]
		return name, ok
	}
}

// Tally accumulates values per key and remembers the order in which keys
// were first seen. The zero value is ready to use.
type Tally[K comparable] struct {
	index  map[K]int
	counts []Count[K]
}

// Add accumulates v under k.
func (t *Tally[K]) Add(k K, v decimal.Decimal) {
	if t.index == nil {
		t.index = make(map[K]int)
	}
	i, ok := t.index[k]
	if !ok {
		t.index[k] = len(t.counts)
		t.counts = append(t.counts, Count[K]{Key: k, Value: v})
		return
	}
	t.counts[i].Value = t.counts[i].Value.Add(v)
}

// Inc adds one to k.
func (t *Tally[K]) Inc(k K) {
	t.Add(k, decimal.NewFromInt(1))
}

// Len is the number of distinct keys seen.
func (t *Tally[K]) Len() int {
	return len(t.counts)
}

// Counts returns a copy of the accumulated values in first-seen order.
func (t *Tally[K]) Counts() []Count[K] {
	return slices.Clone(t.counts)
}
