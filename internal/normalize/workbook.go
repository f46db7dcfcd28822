package normalize

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/fetcher"
	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/runlog"
)

// WorkbookStore is the store surface the workbook ingester needs.
type WorkbookStore interface {
	InsertStagedPersonRoles(ctx context.Context, rows []model.StagedPersonRole) (int64, error)
	InsertStagedFunding(ctx context.Context, rows []model.StagedFunding) (int64, error)
}

// WorkbookOptions bound one workbook ingest pass.
type WorkbookOptions struct {
	// Path is the XLSX file to load.
	Path string
	// RolesSheet and FundingSheet name the sheets to stage. Either may be
	// blank to skip that sheet.
	RolesSheet   string
	FundingSheet string
}

// Default sheet names for the hand-maintained research workbook.
const (
	DefaultRolesSheet   = "Roller"
	DefaultFundingSheet = "Finansiering"
)

// WorkbookIngester stages workbook rows verbatim: no entity resolution
// happens here, only header-driven parsing into the staging tables. The
// normalize pass picks the rows up afterwards.
type WorkbookIngester struct {
	store WorkbookStore
	runs  RunLog
}

// NewWorkbookIngester wires a workbook ingester.
func NewWorkbookIngester(store WorkbookStore, runs RunLog) *WorkbookIngester {
	return &WorkbookIngester{store: store, runs: runs}
}

// Run parses the workbook and loads the staging tables, returning the run
// id and counters.
func (w *WorkbookIngester) Run(ctx context.Context, opts WorkbookOptions) (string, runlog.Counters, error) {
	if opts.Path == "" {
		return "", nil, eris.New("normalize: workbook path is required")
	}
	if opts.RolesSheet == "" && opts.FundingSheet == "" {
		opts.RolesSheet = DefaultRolesSheet
		opts.FundingSheet = DefaultFundingSheet
	}

	counters := runlog.Counters{}
	var roles []model.StagedPersonRole
	var funding []model.StagedFunding
	var err error

	if opts.RolesSheet != "" {
		roles, err = readRolesSheet(opts.Path, opts.RolesSheet, counters)
		if err != nil {
			return "", nil, err
		}
	}
	if opts.FundingSheet != "" {
		funding, err = readFundingSheet(opts.Path, opts.FundingSheet, counters)
		if err != nil {
			return "", nil, err
		}
	}

	runID, err := w.runs.Start(ctx, "ingest_excel")
	if err != nil {
		return "", nil, err
	}

	if len(roles) > 0 {
		inserted, err := w.store.InsertStagedPersonRoles(ctx, roles)
		if err != nil {
			_ = w.runs.Fail(ctx, runID, counters, err.Error())
			return runID, counters, err
		}
		counters.Add("roles_staged", inserted)
	}
	if len(funding) > 0 {
		inserted, err := w.store.InsertStagedFunding(ctx, funding)
		if err != nil {
			_ = w.runs.Fail(ctx, runID, counters, err.Error())
			return runID, counters, err
		}
		counters.Add("funding_staged", inserted)
	}

	if err := w.runs.Complete(ctx, runID, counters); err != nil {
		return runID, counters, err
	}
	zap.L().Info("workbook ingest complete",
		zap.String("run_id", runID),
		zap.String("path", opts.Path),
		zap.Int64("roles_staged", counters["roles_staged"]),
		zap.Int64("funding_staged", counters["funding_staged"]),
		zap.Int64("skipped_rows", counters["skipped_rows"]),
	)
	return runID, counters, nil
}

func readRolesSheet(path, sheet string, counters runlog.Counters) ([]model.StagedPersonRole, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: sheet})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	idx := fetcher.HeaderIndex(rows[0])

	var out []model.StagedPersonRole
	for i, row := range rows[1:] {
		rowNum := i + 2 // 1-based, header on row 1

		name := firstCell(row, idx, "navn", "person", "full_name")
		org := firstCell(row, idx, "organisasjon", "org", "org_name")
		title := firstCell(row, idx, "rolle", "tittel", "role_title")
		if name == "" && org == "" && title == "" {
			continue
		}
		if name == "" || org == "" {
			counters.Inc("skipped_rows")
			zap.L().Warn("workbook role row missing name or organization",
				zap.String("sheet", sheet), zap.Int("row", rowNum))
			continue
		}

		out = append(out, model.StagedPersonRole{
			RowNum:      rowNum,
			FullName:    name,
			OrgName:     org,
			RoleTitle:   title,
			StartOn:     parseWorkbookDate(firstCell(row, idx, "start", "fra", "start_on")),
			EndOn:       parseWorkbookDate(firstCell(row, idx, "slutt", "til", "end_on")),
			SourceQuote: strPtr(firstCell(row, idx, "sitat", "source_quote")),
			SourceURL:   strPtr(firstCell(row, idx, "kilde_url", "url", "source_url")),
			SourceTitle: strPtr(firstCell(row, idx, "kilde_tittel", "source_title")),
			SourceName:  strPtr(firstCell(row, idx, "kilde", "kilde_navn", "source_name")),
		})
	}
	return out, nil
}

func readFundingSheet(path, sheet string, counters runlog.Counters) ([]model.StagedFunding, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: sheet})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	idx := fetcher.HeaderIndex(rows[0])

	var out []model.StagedFunding
	for i, row := range rows[1:] {
		rowNum := i + 2

		recipient := firstCell(row, idx, "mottaker", "recipient", "recipient_name")
		if recipient == "" {
			if !rowIsEmpty(row) {
				counters.Inc("skipped_rows")
				zap.L().Warn("workbook funding row missing recipient",
					zap.String("sheet", sheet), zap.Int("row", rowNum))
			}
			continue
		}

		out = append(out, model.StagedFunding{
			RowNum:         rowNum,
			RecipientName:  recipient,
			FiscalYear:     parseWorkbookInt(firstCell(row, idx, "år", "aar", "fiscal_year")),
			AmountNOK:      parseWorkbookAmount(firstCell(row, idx, "beløp_nok", "belop_nok", "beløp", "amount_nok")),
			FundingChannel: strPtr(firstCell(row, idx, "kanal", "funding_channel")),
			Notes:          strPtr(firstCell(row, idx, "notat", "notes")),
			SourceURL:      strPtr(firstCell(row, idx, "kilde_url", "url", "source_url")),
		})
	}
	return out, nil
}

// firstCell returns the first non-blank cell among the named columns, so
// workbooks with Norwegian or English headers both load.
func firstCell(row []string, idx map[string]int, names ...string) string {
	for _, name := range names {
		if v := fetcher.Cell(row, idx, name); v != "" {
			return v
		}
	}
	return ""
}

func rowIsEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// workbookDateLayouts covers the formats seen in the research workbook:
// ISO dates, Norwegian dot dates, and the xlsx text rendering of dates.
var workbookDateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"01-02-06",
	"2006",
}

func parseWorkbookDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range workbookDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func parseWorkbookInt(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	// xlsx renders integer cells as floats ("2020.000000") now and then.
	if dot := strings.IndexByte(raw, '.'); dot >= 0 {
		raw = raw[:dot]
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

// parseWorkbookAmount handles grouped Norwegian numbers: spaces (plain or
// non-breaking) as thousand separators and a comma decimal mark.
func parseWorkbookAmount(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	raw = strings.NewReplacer(" ", "", " ", "", ",", ".").Replace(raw)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}
