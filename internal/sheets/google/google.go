package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tavola/internal/analytics"
	"tavola/internal/core"
	"tavola/internal/log"
	"tavola/internal/services"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// maxTitleLen is the longest tab name Sheets accepts.
const maxTitleLen = 100

var header = []any{"Month", "Revenue", "Expenses", "Profit"}

// Exporter writes annual reports to one tab per restaurant and year.
type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	logger        *log.Logger
}

var _ services.Exporter = (*Exporter)(nil)

// New creates an exporter authenticated with a service account.
func New(ctx context.Context, spreadsheetID string, credentialsJSON []byte, logger *log.Logger) (*Exporter, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if len(credentialsJSON) == 0 {
		return nil, errors.New("missing service account credentials")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, spreadsheetID, logger), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID string, logger *log.Logger) *Exporter {
	return &Exporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		logger:        logger.WithComponent(log.ComponentSheets),
	}
}

// ExportAnnual overwrites the report's tab, creating it first if needed.
func (e *Exporter) ExportAnnual(ctx context.Context, report services.AnnualReport) error {
	if e.svc == nil {
		return errors.New("sheets service not initialized")
	}
	title := sheetTitle(report.Year, report.Restaurant)
	if err := e.ensureSheet(ctx, title); err != nil {
		return err
	}

	rows := reportRows(report)
	rng := fmt.Sprintf("%s!A1:D%d", quoteTitle(title), len(rows))
	vr := &gsheet.ValueRange{Values: rows}
	_, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", rng, err)
	}

	e.logger.InfoContext(ctx, "Annual report exported",
		log.FieldRestaurantID, report.RestaurantID,
		log.FieldYear, report.Year,
		"sheet", title)
	return nil
}

func (e *Exporter) ensureSheet(ctx context.Context, title string) error {
	ss, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}
	if _, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %q: %w", title, err)
	}
	e.logger.InfoContext(ctx, "Sheet created", "sheet", title)
	return nil
}

// reportRows lays out the header, one row per month and a total row.
func reportRows(r services.AnnualReport) [][]any {
	rows := make([][]any, 0, 14)
	rows = append(rows, header)
	for i, p := range r.Revenue {
		rows = append(rows, []any{
			p.Label,
			core.FormatAmount(p.Total),
			core.FormatAmount(pointAt(r.Expenses, i).Total),
			core.FormatAmount(pointAt(r.Profit, i).Total),
		})
	}
	rows = append(rows, []any{
		"Total",
		core.FormatAmount(analytics.SeriesTotal(r.Revenue)),
		core.FormatAmount(analytics.SeriesTotal(r.Expenses)),
		core.FormatAmount(analytics.SeriesTotal(r.Profit)),
	})
	return rows
}

func pointAt(s []analytics.SeriesPoint, i int) analytics.SeriesPoint {
	if i < len(s) {
		return s[i]
	}
	return analytics.SeriesPoint{}
}

// sheetTitle returns "<year> <name>" with characters Sheets rejects in tab
// names replaced.
func sheetTitle(year int, name string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', '*', '?', '/', '\\', ':':
			return '-'
		}
		return r
	}, strings.TrimSpace(name))
	title := strings.TrimSpace(fmt.Sprintf("%d %s", year, clean))
	if r := []rune(title); len(r) > maxTitleLen {
		title = string(r[:maxTitleLen])
	}
	return title
}

func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
