package model

import "time"

// SourceRef is a lightweight provenance pointer carried on query rows.
type SourceRef struct {
	URL        string  `json:"url"`
	Title      *string `json:"title,omitempty"`
	SourceName *string `json:"source_name,omitempty"`
}

// RoleRow is a role event joined with its person, organization, and sources,
// as fetched for graph assembly.
type RoleRow struct {
	RoleEventID      int64       `json:"role_event_id"`
	PersonID         int64       `json:"person_id"`
	PersonName       string      `json:"person_name"`
	OrganizationID   int64       `json:"organization_id"`
	OrganizationName string      `json:"organization_name"`
	OrgType          *string     `json:"org_type,omitempty"`
	RoleTitle        string      `json:"role_title"`
	StartOn          *time.Time  `json:"start_on,omitempty"`
	EndOn            *time.Time  `json:"end_on,omitempty"`
	SourceQuote      *string     `json:"source_quote,omitempty"`
	Confidence       float64     `json:"confidence"`
	Sources          []SourceRef `json:"sources,omitempty"`
}

// FundingRow is a funding flow joined with donor/recipient names and sources.
type FundingRow struct {
	FlowID           int64       `json:"flow_id"`
	DonorOrgID       *int64      `json:"donor_org_id,omitempty"`
	DonorOrgName     *string     `json:"donor_org_name,omitempty"`
	DonorCountryCode *string     `json:"donor_country_code,omitempty"`
	RecipientOrgID   *int64      `json:"recipient_org_id,omitempty"`
	RecipientOrgName *string     `json:"recipient_org_name,omitempty"`
	RecipientOrgType *string     `json:"recipient_org_type,omitempty"`
	RecipientNameRaw *string     `json:"recipient_name_raw,omitempty"`
	FiscalYear       *int        `json:"fiscal_year,omitempty"`
	PeriodStart      *time.Time  `json:"period_start,omitempty"`
	PeriodEnd        *time.Time  `json:"period_end,omitempty"`
	AmountNOK        *float64    `json:"amount_nok,omitempty"`
	AmountOriginal   *float64    `json:"amount_original,omitempty"`
	CurrencyCode     *string     `json:"currency_code,omitempty"`
	FundingChannel   *string     `json:"funding_channel,omitempty"`
	FlowType         *string     `json:"flow_type,omitempty"`
	Confidence       float64     `json:"confidence"`
	Sources          []SourceRef `json:"sources,omitempty"`
}

// PalestineFlowRow is one UD-to-Palestine funding flow joined back to the
// staged IATI transaction it was normalized from, as served by the
// ud-palestina view. Rows arrive newest-first on their transaction date,
// falling back to the reporting period.
type PalestineFlowRow struct {
	FlowID           int64      `json:"flow_id"`
	DonorOrgID       *int64     `json:"donor_org_id,omitempty"`
	DonorOrgName     *string    `json:"donor_org_name,omitempty"`
	RecipientOrgID   *int64     `json:"recipient_org_id,omitempty"`
	RecipientOrgName *string    `json:"recipient_org_name,omitempty"`
	RecipientNameRaw *string    `json:"recipient_name_raw,omitempty"`
	FiscalYear       *int       `json:"fiscal_year,omitempty"`
	TransactionDate  *time.Time `json:"transaction_date,omitempty"`
	PeriodStart      *time.Time `json:"period_start,omitempty"`
	PeriodEnd        *time.Time `json:"period_end,omitempty"`
	AmountNOK        *float64   `json:"amount_nok,omitempty"`
	AmountOriginal   *float64   `json:"amount_original,omitempty"`
	CurrencyCode     *string    `json:"currency_code,omitempty"`
	FundingChannel   *string    `json:"funding_channel,omitempty"`
	ProviderOrgName  *string    `json:"provider_org_name,omitempty"`
	ActivityTitle    *string    `json:"activity_title,omitempty"`
	ResourceURL      *string    `json:"resource_url,omitempty"`
	Confidence       float64    `json:"confidence"`
}

// PersonLinkRow is a person link joined with both person names and sources.
type PersonLinkRow struct {
	LinkID       int64       `json:"link_id"`
	PersonAID    int64       `json:"person_a_id"`
	PersonAName  string      `json:"person_a_name"`
	PersonBID    int64       `json:"person_b_id"`
	PersonBName  string      `json:"person_b_name"`
	RelationType string      `json:"relation_type"`
	Description  *string     `json:"description,omitempty"`
	StartYear    *int        `json:"start_year,omitempty"`
	EndYear      *int        `json:"end_year,omitempty"`
	Confidence   float64     `json:"confidence"`
	Sources      []SourceRef `json:"sources,omitempty"`
}
