package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tavola/internal/analytics"
	"tavola/internal/core"
	"tavola/internal/log"
	"tavola/internal/storage"

	"github.com/getsentry/sentry-go"
)

// SnapshotAnnual is the kind under which annual reports are stored.
const SnapshotAnnual = "annual"

// AnnualReport is the precomputed yearly view written by the worker.
type AnnualReport struct {
	RestaurantID int64                   `json:"restaurant_id"`
	Restaurant   string                  `json:"restaurant"`
	Year         int                     `json:"year"`
	Revenue      []analytics.SeriesPoint `json:"revenue"`
	Expenses     []analytics.SeriesPoint `json:"expenses"`
	Profit       []analytics.SeriesPoint `json:"profit"`
	GeneratedAt  time.Time               `json:"generated_at"`
}

// Snapshot returns the stored annual report. storage.ErrNotFound means the
// worker has not produced one yet.
func (s *ReportService) Snapshot(ctx context.Context, rid core.RestaurantID, year int) (AnnualReport, error) {
	if _, err := s.store.GetRestaurant(ctx, rid); err != nil {
		return AnnualReport{}, err
	}
	snap, err := s.store.GetSnapshot(ctx, rid, year, SnapshotAnnual)
	if err != nil {
		return AnnualReport{}, err
	}
	var report AnnualReport
	if err := json.Unmarshal(snap.Payload, &report); err != nil {
		return AnnualReport{}, fmt.Errorf("decode snapshot %d/%d: %w", rid, year, err)
	}
	return report, nil
}

// annual computes the report from the records, bypassing the cache.
func (s *ReportService) annual(ctx context.Context, rest core.Restaurant, year int) (AnnualReport, error) {
	revenue, err := s.monthlyRevenue(ctx, rest, year)
	if err != nil {
		return AnnualReport{}, err
	}
	expenses, err := s.monthlyExpenses(ctx, rest, year)
	if err != nil {
		return AnnualReport{}, err
	}
	return AnnualReport{
		RestaurantID: int64(rest.ID),
		Restaurant:   rest.Name,
		Year:         year,
		Revenue:      revenue,
		Expenses:     expenses,
		Profit:       analytics.Difference(revenue, expenses),
		GeneratedAt:  time.Now().UTC(),
	}, nil
}

// SnapshotStore is what the refresher writes to.
type SnapshotStore interface {
	GetRestaurant(ctx context.Context, id core.RestaurantID) (core.Restaurant, error)
	ListRestaurants(ctx context.Context) ([]core.Restaurant, error)
	UpsertSnapshot(ctx context.Context, s storage.Snapshot) error
}

// Exporter publishes an annual report somewhere outside the database.
type Exporter interface {
	ExportAnnual(ctx context.Context, report AnnualReport) error
}

// SnapshotRefresher recomputes stored annual reports and hands them to an
// optional exporter.
type SnapshotRefresher struct {
	reports  *ReportService
	store    SnapshotStore
	exporter Exporter
	logger   *log.Logger
}

func NewSnapshotRefresher(reports *ReportService, store SnapshotStore, exporter Exporter, logger *log.Logger) *SnapshotRefresher {
	return &SnapshotRefresher{
		reports:  reports,
		store:    store,
		exporter: exporter,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Refresh rebuilds one restaurant's annual report. An export failure is
// logged and reported but does not fail the refresh: the snapshot is stored.
func (r *SnapshotRefresher) Refresh(ctx context.Context, rid core.RestaurantID, year int) (AnnualReport, error) {
	rest, err := r.store.GetRestaurant(ctx, rid)
	if err != nil {
		return AnnualReport{}, err
	}
	report, err := r.reports.annual(ctx, rest, year)
	if err != nil {
		return AnnualReport{}, fmt.Errorf("refresh %d/%d: %w", rid, year, err)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return AnnualReport{}, fmt.Errorf("encode snapshot: %w", err)
	}
	err = r.store.UpsertSnapshot(ctx, storage.Snapshot{
		RestaurantID: rid,
		Year:         year,
		Kind:         SnapshotAnnual,
		Payload:      payload,
		UpdatedAt:    report.GeneratedAt,
	})
	if err != nil {
		return AnnualReport{}, err
	}
	r.reports.Invalidate(rid)

	if r.exporter != nil {
		if err := r.exporter.ExportAnnual(ctx, report); err != nil {
			r.logger.ErrorContext(ctx, "Failed to export annual report",
				log.NewFields().WithReport(int64(rid), SnapshotAnnual, year, 0).WithError(err).WithOperation(log.OpExport).ToSlice()...)
			sentry.CaptureException(err)
		}
	}

	r.logger.InfoContext(ctx, "Annual snapshot refreshed",
		log.FieldRestaurantID, int64(rid),
		log.FieldYear, year,
		"revenue", core.FormatAmount(analytics.SeriesTotal(report.Revenue)))
	return report, nil
}

// RefreshAll refreshes every restaurant for the year current at the given
// instant in that restaurant's timezone, continuing past failures. It
// returns the number refreshed and the joined errors.
func (r *SnapshotRefresher) RefreshAll(ctx context.Context, at time.Time) (int, error) {
	rests, err := r.store.ListRestaurants(ctx)
	if err != nil {
		return 0, fmt.Errorf("list restaurants: %w", err)
	}
	var (
		errs []error
		done int
	)
	for _, rest := range rests {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := r.Refresh(ctx, rest.ID, at.In(rest.Location()).Year()); err != nil {
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}
