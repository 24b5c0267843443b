package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tavola/internal/amqp"
	"tavola/internal/core"
	"tavola/internal/log"
	"tavola/internal/services"
	"tavola/internal/storage"
)

// Refresher rebuilds stored annual reports.
type Refresher interface {
	Refresh(ctx context.Context, rid core.RestaurantID, year int) (services.AnnualReport, error)
	RefreshAll(ctx context.Context, at time.Time) (int, error)
}

// clockSkew is how far the clock that stamped an event may run ahead of the
// worker's before a genuinely new event would look covered.
const clockSkew = 5 * time.Second

type refreshKey struct {
	rid  core.RestaurantID
	year int
}

// RefreshWorker keeps report snapshots current from record events and a
// periodic sweep.
type RefreshWorker struct {
	refresher Refresher
	logger    *log.Logger
	now       func() time.Time

	mu      sync.Mutex
	started map[refreshKey]time.Time
}

func NewRefreshWorker(refresher Refresher, logger *log.Logger) *RefreshWorker {
	return &RefreshWorker{
		refresher: refresher,
		logger:    logger.WithComponent(log.ComponentWorker),
		now:       time.Now,
		started:   make(map[refreshKey]time.Time),
	}
}

// HandleEvent refreshes the snapshot an event affects. Events that occurred
// well before the last refresh of the same snapshot started are already
// covered and are skipped; the clockSkew margin leaves events from a server
// whose clock runs ahead to be refreshed. A missing restaurant is
// acknowledged, not retried.
func (w *RefreshWorker) HandleEvent(ctx context.Context, ev amqp.RecordEvent) error {
	key := refreshKey{rid: core.RestaurantID(ev.RestaurantID), year: ev.Year}

	w.mu.Lock()
	last, seen := w.started[key]
	w.mu.Unlock()
	if seen && ev.OccurredAt.Before(last.Add(-clockSkew)) {
		w.logger.DebugContext(ctx, "Event already covered by a later refresh",
			log.FieldRestaurantID, ev.RestaurantID,
			log.FieldEventKind, string(ev.Kind),
			log.FieldYear, ev.Year)
		return nil
	}

	start := w.now()
	_, err := w.refresher.Refresh(ctx, key.rid, key.year)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.WarnContext(ctx, "Dropping event for unknown restaurant",
			log.FieldRestaurantID, ev.RestaurantID,
			log.FieldEventKind, string(ev.Kind))
		return nil
	}
	if err != nil {
		return fmt.Errorf("handle %s: %w", ev.Kind, err)
	}

	w.mu.Lock()
	if start.After(w.started[key]) {
		w.started[key] = start
	}
	w.mu.Unlock()
	return nil
}

// Sweep refreshes every restaurant for its current year. It backs up the
// event path when messages are lost or AMQP is disabled.
func (w *RefreshWorker) Sweep(ctx context.Context) error {
	at := w.now()
	n, err := w.refresher.RefreshAll(ctx, at)
	if err != nil {
		w.logger.ErrorContext(ctx, "Snapshot sweep finished with errors",
			"at", at, "refreshed", n, log.FieldError, err.Error())
		return err
	}
	w.logger.InfoContext(ctx, "Snapshot sweep complete", "at", at, "refreshed", n)
	return nil
}

// Run sweeps once, then every interval until ctx is done.
func (w *RefreshWorker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid sweep interval %s", interval)
	}
	_ = w.Sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = w.Sweep(ctx)
		}
	}
}
