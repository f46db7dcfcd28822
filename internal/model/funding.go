package model

import "time"

// FundingFlow is one money movement from a Norwegian donor toward a
// recipient. The recipient is either a resolved organization or, when
// resolution misses, a raw name kept for external-recipient grouping.
type FundingFlow struct {
	ID               int64      `json:"id"`
	DonorOrgID       *int64     `json:"donor_org_id,omitempty"`
	DonorCountryCode *string    `json:"donor_country_code,omitempty"`
	RecipientOrgID   *int64     `json:"recipient_org_id,omitempty"`
	RecipientNameRaw *string    `json:"recipient_name_raw,omitempty"`
	FiscalYear       *int       `json:"fiscal_year,omitempty"`
	PeriodStart      *time.Time `json:"period_start,omitempty"`
	PeriodEnd        *time.Time `json:"period_end,omitempty"`
	AmountNOK        *float64   `json:"amount_nok,omitempty"`
	AmountOriginal   *float64   `json:"amount_original,omitempty"`
	CurrencyCode     *string    `json:"currency_code,omitempty"`
	FundingChannel   *string    `json:"funding_channel,omitempty"`
	FlowType         *string    `json:"flow_type,omitempty"`
	Confidence       float64    `json:"confidence"`
	Notes            *string    `json:"notes,omitempty"`
}

// IngestKey ties a funding flow to the immutable identity of the staged
// event it came from, enforcing exactly-once normalization per source.
type IngestKey struct {
	SourceSystem  string `json:"source_system"`
	EventKey      string `json:"event_key"`
	FundingFlowID int64  `json:"funding_flow_id"`
}
