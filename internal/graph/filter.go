package graph

import (
	"strings"
	"time"

	"github.com/bstandal/NorConnect/internal/model"
)

// Filters narrow every graph view: a case-insensitive substring query and
// an optional year window.
type Filters struct {
	Q        string
	YearFrom *int
	YearTo   *int
}

// inWindow reports whether a row falls inside the year window. A row with
// an anchor year matches on that year alone; otherwise its (start, end)
// interval must overlap the window, with missing bounds widened to 0/9999.
func (f Filters) inWindow(year, startYear, endYear *int) bool {
	if year != nil {
		if f.YearFrom != nil && *year < *f.YearFrom {
			return false
		}
		if f.YearTo != nil && *year > *f.YearTo {
			return false
		}
		return true
	}

	start, end := 0, 9999
	if startYear != nil {
		start = *startYear
	}
	if endYear != nil {
		end = *endYear
	}
	if f.YearFrom != nil && end < *f.YearFrom {
		return false
	}
	if f.YearTo != nil && start > *f.YearTo {
		return false
	}
	return true
}

// matches reports whether any text contains the query, case-insensitively.
// An empty query matches everything.
func (f Filters) matches(texts ...string) bool {
	q := strings.ToLower(strings.TrimSpace(f.Q))
	if q == "" {
		return true
	}
	for _, text := range texts {
		if text != "" && strings.Contains(strings.ToLower(text), q) {
			return true
		}
	}
	return false
}

func yearOf(t *time.Time) *int {
	if t == nil {
		return nil
	}
	y := t.Year()
	return &y
}

// roleWindow extracts (startYear, endYear, anchorYear) from a role row.
// The anchor is the start year when present.
func roleWindow(row model.RoleRow) (startYear, endYear, anchor *int) {
	startYear = yearOf(row.StartOn)
	endYear = yearOf(row.EndOn)
	anchor = startYear
	return startYear, endYear, anchor
}

// FilterRoles keeps role rows inside the window whose person, organization,
// or title matches the query.
func FilterRoles(rows []model.RoleRow, f Filters) []model.RoleRow {
	out := make([]model.RoleRow, 0, len(rows))
	for _, row := range rows {
		_, endYear, anchor := roleWindow(row)
		if !f.inWindow(nil, anchor, endYear) {
			continue
		}
		if !f.matches(row.PersonName, row.OrganizationName, row.RoleTitle) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// FilterFunding keeps funding rows whose fiscal year falls in the window
// and whose recipient, raw name, donor, or channel matches the query. Rows
// without a fiscal year fall back to their reporting period interval.
func FilterFunding(rows []model.FundingRow, f Filters) []model.FundingRow {
	out := make([]model.FundingRow, 0, len(rows))
	for _, row := range rows {
		if !f.inWindow(row.FiscalYear, yearOf(row.PeriodStart), yearOf(row.PeriodEnd)) {
			continue
		}
		if !f.matches(deref(row.RecipientOrgName), deref(row.RecipientNameRaw), deref(row.DonorOrgName), deref(row.FundingChannel)) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// labelAmount picks the amount and currency an edge label shows: NOK when
// present, else the original amount in its own currency (USD assumed when
// unset).
func labelAmount(row model.FundingRow) (*float64, string) {
	if row.AmountNOK != nil {
		return row.AmountNOK, "NOK"
	}
	if row.AmountOriginal != nil {
		currency := strings.ToUpper(deref(row.CurrencyCode))
		if currency == "" {
			currency = "USD"
		}
		return row.AmountOriginal, currency
	}
	return nil, "NOK"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
