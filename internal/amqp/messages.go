package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventKind names what happened to a restaurant's records.
type EventKind string

const (
	KindOrderRecorded    EventKind = "order.recorded"
	KindExpenseRecorded  EventKind = "expense.recorded"
	KindCatalogChanged   EventKind = "catalog.changed"
	KindRefreshRequested EventKind = "snapshot.refresh"
)

var ErrInvalidEvent = errors.New("invalid record event")

// RecordEvent tells the worker that a restaurant's reports for a year are
// stale. It carries no record data; the worker reads from the database.
type RecordEvent struct {
	RestaurantID int64     `json:"restaurant_id"`
	Kind         EventKind `json:"kind"`
	Year         int       `json:"year"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func NewRecordEvent(restaurantID int64, kind EventKind, year int) RecordEvent {
	return RecordEvent{
		RestaurantID: restaurantID,
		Kind:         kind,
		Year:         year,
		OccurredAt:   time.Now().UTC(),
	}
}

func (e RecordEvent) Validate() error {
	if e.RestaurantID <= 0 {
		return fmt.Errorf("%w: restaurant_id %d", ErrInvalidEvent, e.RestaurantID)
	}
	if e.Year < 1970 || e.Year > 9999 {
		return fmt.Errorf("%w: year %d", ErrInvalidEvent, e.Year)
	}
	switch e.Kind {
	case KindOrderRecorded, KindExpenseRecorded, KindCatalogChanged, KindRefreshRequested:
		return nil
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidEvent, e.Kind)
	}
}

func (e RecordEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// RecordEventFromJSON decodes and validates a message body.
func RecordEventFromJSON(data []byte) (RecordEvent, error) {
	var e RecordEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return RecordEvent{}, err
	}
	if err := e.Validate(); err != nil {
		return RecordEvent{}, err
	}
	return e, nil
}
