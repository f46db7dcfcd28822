package graph

import (
	"math"
	"sort"
	"strings"

	"github.com/bstandal/NorConnect/internal/model"
)

// Timeline is the per-year activity series consumed by the timeline chart.
// All slices are parallel to Years.
type Timeline struct {
	Years        []int     `json:"years"`
	RoleStarts   []int     `json:"role_starts"`
	FundingFlows []int     `json:"funding_flows"`
	FundingNOK   []float64 `json:"funding_nok"`
	FundingUSD   []float64 `json:"funding_usd"`
}

// BuildTimeline buckets filtered roles and funding flows by year. Roles
// count on their anchor year, flows on their fiscal year; NOK amounts sum
// separately from USD originals. With no data inside an explicit window
// the year axis still spans the window.
func BuildTimeline(roleRows []model.RoleRow, fundingRows []model.FundingRow, f Filters) *Timeline {
	roleRows = FilterRoles(roleRows, f)
	fundingRows = FilterFunding(fundingRows, f)

	roleStarts := make(map[int]int)
	flowCounts := make(map[int]int)
	nokTotals := make(map[int]float64)
	usdTotals := make(map[int]float64)

	for _, row := range roleRows {
		_, _, anchor := roleWindow(row)
		if anchor == nil {
			continue
		}
		roleStarts[*anchor]++
	}
	for _, row := range fundingRows {
		if row.FiscalYear == nil {
			continue
		}
		year := *row.FiscalYear
		flowCounts[year]++
		switch {
		case row.AmountNOK != nil:
			nokTotals[year] += *row.AmountNOK
		case row.AmountOriginal != nil && strings.ToUpper(deref(row.CurrencyCode)) == "USD":
			usdTotals[year] += *row.AmountOriginal
		}
	}

	yearSet := make(map[int]bool)
	for _, m := range []map[int]int{roleStarts, flowCounts} {
		for y := range m {
			yearSet[y] = true
		}
	}
	for _, m := range []map[int]float64{nokTotals, usdTotals} {
		for y := range m {
			yearSet[y] = true
		}
	}
	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Ints(years)

	if len(years) == 0 && f.YearFrom != nil && f.YearTo != nil && *f.YearTo >= *f.YearFrom {
		for y := *f.YearFrom; y <= *f.YearTo; y++ {
			years = append(years, y)
		}
	}

	tl := &Timeline{
		Years:        years,
		RoleStarts:   make([]int, len(years)),
		FundingFlows: make([]int, len(years)),
		FundingNOK:   make([]float64, len(years)),
		FundingUSD:   make([]float64, len(years)),
	}
	for i, y := range years {
		tl.RoleStarts[i] = roleStarts[y]
		tl.FundingFlows[i] = flowCounts[y]
		tl.FundingNOK[i] = round2(nokTotals[y])
		tl.FundingUSD[i] = round2(usdTotals[y])
	}
	return tl
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
