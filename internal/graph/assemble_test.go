package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func intP(v int) *int           { return &v }
func floatP(v float64) *float64 { return &v }
func strP(s string) *string     { return &s }
func int64P(v int64) *int64     { return &v }

func dateP(y int, m time.Month) *time.Time {
	t := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "?", FormatAmount(nil, "NOK"))
	assert.Equal(t, "2.50 mrd", FormatAmount(floatP(2_500_000_000), "NOK"))
	assert.Equal(t, "270.0 mill", FormatAmount(floatP(270_000_000), "NOK"))
	assert.Equal(t, "98,000", FormatAmount(floatP(98_000), "NOK"))
	assert.Equal(t, "$1.5M", FormatAmount(floatP(1_500_000), "USD"))
	assert.Equal(t, "$125,001", FormatAmount(floatP(125_000.75), "usd"))
}

func TestShortLabel(t *testing.T) {
	assert.Equal(t, "Generalsekretær", ShortLabel("  Generalsekretær ", DefaultLabelLimit))
	long := "Spesialrepresentant for generalsekretæren i Midtøsten"
	short := ShortLabel(long, DefaultLabelLimit)
	assert.Len(t, []rune(short), DefaultLabelLimit)
	assert.Equal(t, "…", string([]rune(short)[DefaultLabelLimit-1]))
}

func TestFiltersWindow_RoleInterval(t *testing.T) {
	role := model.RoleRow{
		RoleEventID: 1, PersonID: 1, PersonName: "Jan Egeland",
		OrganizationID: 2, OrganizationName: "Flyktninghjelpen",
		RoleTitle: "Generalsekretær",
		StartOn:   dateP(2010, time.August), EndOn: dateP(2015, time.March),
	}

	assert.Len(t, FilterRoles([]model.RoleRow{role}, Filters{YearFrom: intP(2012), YearTo: intP(2020)}), 1)
	assert.Empty(t, FilterRoles([]model.RoleRow{role}, Filters{YearFrom: intP(2016), YearTo: intP(2020)}))
	assert.Len(t, FilterRoles([]model.RoleRow{role}, Filters{YearFrom: intP(2011)}), 1)

	// Open-ended role: no end year widens to 9999.
	open := role
	open.EndOn = nil
	assert.Len(t, FilterRoles([]model.RoleRow{open}, Filters{YearFrom: intP(2020)}), 1)
}

func TestFiltersQuery(t *testing.T) {
	rows := []model.RoleRow{
		{RoleEventID: 1, PersonID: 1, PersonName: "Jan Egeland", OrganizationID: 2, OrganizationName: "Flyktninghjelpen", RoleTitle: "Generalsekretær"},
		{RoleEventID: 2, PersonID: 3, PersonName: "Mona Juul", OrganizationID: 4, OrganizationName: "Norges FN-delegasjon", RoleTitle: "Ambassadør"},
	}

	kept := FilterRoles(rows, Filters{Q: "flyktning"})
	require.Len(t, kept, 1)
	assert.Equal(t, int64(1), kept[0].RoleEventID)

	assert.Len(t, FilterRoles(rows, Filters{Q: "  "}), 2)
	assert.Empty(t, FilterRoles(rows, Filters{Q: "røde kors"}))
}

func TestFilterFunding_PeriodFallback(t *testing.T) {
	// No fiscal year: the reporting period interval decides the window.
	rows := []model.FundingRow{{
		FlowID:           20,
		RecipientNameRaw: strP("Al-Quds Society"),
		PeriodStart:      dateP(2019, time.January),
		PeriodEnd:        dateP(2019, time.December),
		AmountNOK:        floatP(50_000),
	}}

	assert.Len(t, FilterFunding(rows, Filters{YearFrom: intP(2019), YearTo: intP(2019)}), 1)
	assert.Empty(t, FilterFunding(rows, Filters{YearFrom: intP(2020)}))
	assert.Empty(t, FilterFunding(rows, Filters{YearTo: intP(2018)}))

	// Neither year nor period: the row survives any window.
	rows[0].PeriodStart, rows[0].PeriodEnd = nil, nil
	assert.Len(t, FilterFunding(rows, Filters{YearFrom: intP(1990), YearTo: intP(2024)}), 1)
}

func fundingFixture() []model.FundingRow {
	return []model.FundingRow{
		{
			FlowID:         10,
			RecipientOrgID: int64P(7), RecipientOrgName: strP("UNICEF"),
			FiscalYear: intP(2020), AmountNOK: floatP(1_000_000),
			FundingChannel: strP("IATI transaction type 3"),
		},
		{
			FlowID:           11,
			RecipientNameRaw: strP("Al-Quds Society"),
			FiscalYear:       intP(2018), AmountOriginal: floatP(2_000_000), CurrencyCode: strP("USD"),
			FundingChannel: strP("OECD DAC2A recipient proxy"),
		},
	}
}

func TestAssemble_FundingGraph(t *testing.T) {
	net := Assemble(nil, fundingFixture(), AssembleOptions{
		IncludeFunding: true,
		Filters:        Filters{Q: "unicef", YearFrom: intP(2019), YearTo: intP(2021)},
	})

	require.Len(t, net.Edges, 1)
	edge := net.Edges[0]
	assert.Equal(t, "funding:10", edge.ID)
	assert.Equal(t, "country:NO", edge.From)
	assert.Equal(t, "org:7", edge.To)
	assert.Equal(t, "1.0 mill", edge.Label)
	assert.Equal(t, 2020, *edge.Year)

	// Pruning keeps only connected nodes: donor + recipient.
	require.Len(t, net.Nodes, 2)
	assert.Equal(t, 1, net.Stats["funding_edges"])
	assert.Equal(t, 1, net.Stats["funding_edges_total_matched"])
	assert.Equal(t, false, net.Stats["funding_edges_truncated"])
}

func TestAssemble_ExternalRecipientAndTruncation(t *testing.T) {
	net := Assemble(nil, fundingFixture(), AssembleOptions{
		IncludeFunding:  true,
		MaxFundingEdges: 1,
	})

	// Both rows match; only one edge survives the cap.
	require.Len(t, net.Edges, 1)
	assert.Equal(t, 2, net.Stats["funding_edges_total_matched"])
	assert.Equal(t, true, net.Stats["funding_edges_truncated"])

	// Without the cap the unresolved recipient becomes an external node.
	full := Assemble(nil, fundingFixture(), AssembleOptions{IncludeFunding: true})
	require.Len(t, full.Edges, 2)
	assert.Equal(t, "external:al quds society", full.Edges[1].To)
	assert.Equal(t, "$2.0M", full.Edges[1].Label)
}

func TestAssemble_RolesAndPruning(t *testing.T) {
	roles := []model.RoleRow{{
		RoleEventID: 5, PersonID: 1, PersonName: "Jan Egeland",
		OrganizationID: 2, OrganizationName: "Flyktninghjelpen",
		RoleTitle: "Generalsekretær", StartOn: dateP(2013, time.August),
	}}

	net := Assemble(roles, fundingFixture(), AssembleOptions{IncludeRoles: true})

	// Funding excluded: the donor node never appears and no funding nodes
	// survive pruning.
	require.Len(t, net.Edges, 1)
	assert.Equal(t, "role:5", net.Edges[0].ID)
	assert.Equal(t, 2013, *net.Edges[0].Year)
	assert.Len(t, net.Nodes, 2)
	assert.Equal(t, 0, net.Stats["funding_edges_total_matched"])
}

func TestBuildTimeline(t *testing.T) {
	roles := []model.RoleRow{
		{RoleEventID: 1, PersonID: 1, PersonName: "A", OrganizationID: 2, OrganizationName: "X", RoleTitle: "Leder", StartOn: dateP(2018, time.May)},
		{RoleEventID: 2, PersonID: 1, PersonName: "A", OrganizationID: 3, OrganizationName: "Y", RoleTitle: "Medlem"},
	}

	tl := BuildTimeline(roles, fundingFixture(), Filters{})
	assert.Equal(t, []int{2018, 2020}, tl.Years)
	assert.Equal(t, []int{1, 0}, tl.RoleStarts)
	assert.Equal(t, []int{1, 1}, tl.FundingFlows)
	assert.Equal(t, []float64{0, 1_000_000}, tl.FundingNOK)
	// The USD original lands in its own series.
	assert.Equal(t, []float64{2_000_000, 0}, tl.FundingUSD)

	// No matches inside an explicit window still spans the axis.
	empty := BuildTimeline(nil, nil, Filters{YearFrom: intP(2001), YearTo: intP(2003)})
	assert.Equal(t, []int{2001, 2002, 2003}, empty.Years)
	assert.Equal(t, []int{0, 0, 0}, empty.FundingFlows)
}

func TestBuildToplists(t *testing.T) {
	roles := []model.RoleRow{
		{RoleEventID: 1, PersonID: 1, PersonName: "Anna Aas", OrganizationID: 10, OrganizationName: "Stiftelsen X", RoleTitle: "Styreleder"},
		{RoleEventID: 2, PersonID: 1, PersonName: "Anna Aas", OrganizationID: 11, OrganizationName: "Instituttet Y", RoleTitle: "Styremedlem"},
		{RoleEventID: 3, PersonID: 2, PersonName: "Bernt Berg", OrganizationID: 10, OrganizationName: "Stiftelsen X", RoleTitle: "Styremedlem"},
	}
	funding := []model.FundingRow{
		{FlowID: 1, RecipientOrgID: int64P(10), RecipientOrgName: strP("Stiftelsen X"), FiscalYear: intP(2020), AmountNOK: floatP(500)},
		{FlowID: 2, RecipientOrgID: int64P(10), RecipientOrgName: strP("Stiftelsen X"), FiscalYear: intP(2021), AmountNOK: floatP(700)},
		{FlowID: 3, RecipientNameRaw: strP("Ekstern Mottaker"), FiscalYear: intP(2021), AmountOriginal: floatP(900), CurrencyCode: strP("USD")},
	}

	top := BuildToplists(roles, funding, Filters{})

	require.Len(t, top.OrgFundingTop, 2)
	assert.Equal(t, "Stiftelsen X", top.OrgFundingTop[0].OrgName)
	assert.Equal(t, 1200.0, top.OrgFundingTop[0].NOKTotal)
	assert.Equal(t, 2, top.OrgFundingTop[0].FlowCount)
	assert.Equal(t, 900.0, top.OrgFundingTop[1].USDTotal)

	require.Len(t, top.OrgRoleTop, 2)
	assert.Equal(t, "Stiftelsen X", top.OrgRoleTop[0].OrgName)
	assert.Equal(t, 2, top.OrgRoleTop[0].RoleCount)
	assert.Equal(t, 2, top.OrgRoleTop[0].PersonCount)

	require.Len(t, top.PersonRoleTop, 2)
	assert.Equal(t, "Anna Aas", top.PersonRoleTop[0].PersonName)
	assert.Equal(t, 2, top.PersonRoleTop[0].OrgCount)
}

func TestBuildCoboard(t *testing.T) {
	// P1 serves {A, B}, P2 serves {B, C}: exactly one co-board pair per
	// person-pairing of orgs, and org B links to both.
	roles := []model.RoleRow{
		{RoleEventID: 1, PersonID: 1, PersonName: "P1", OrganizationID: 100, OrganizationName: "A", RoleTitle: "Styremedlem"},
		{RoleEventID: 2, PersonID: 1, PersonName: "P1", OrganizationID: 101, OrganizationName: "B", RoleTitle: "Styremedlem"},
		{RoleEventID: 3, PersonID: 2, PersonName: "P2", OrganizationID: 101, OrganizationName: "B", RoleTitle: "Styremedlem"},
		{RoleEventID: 4, PersonID: 2, PersonName: "P2", OrganizationID: 102, OrganizationName: "C", RoleTitle: "Styremedlem"},
	}

	net := BuildCoboard(roles, Filters{})

	require.Len(t, net.Edges, 2)
	assert.Equal(t, "coboard:100:101", net.Edges[0].ID)
	assert.Equal(t, "coboard:101:102", net.Edges[1].ID)
	assert.Equal(t, 1, net.Edges[0].Metadata["shared_count"])
	assert.Equal(t, []string{"P1"}, net.Edges[0].Metadata["person_names"])

	require.Len(t, net.Nodes, 3)
	var bDegree int
	for _, n := range net.Nodes {
		if n.ID == "org:101" {
			bDegree = n.Degree
		}
	}
	assert.Equal(t, 2, bDegree)
	assert.Equal(t, 1, net.Stats["max_shared"])
}
