package model

import "time"

// StagedPersonRole is one pre-parsed workbook row describing a person
// holding a role at an organization.
type StagedPersonRole struct {
	ID          int64      `json:"id"`
	RowNum      int        `json:"row_num"`
	FullName    string     `json:"full_name"`
	OrgName     string     `json:"org_name"`
	RoleTitle   string     `json:"role_title"`
	StartOn     *time.Time `json:"start_on,omitempty"`
	EndOn       *time.Time `json:"end_on,omitempty"`
	SourceQuote *string    `json:"source_quote,omitempty"`
	SourceURL   *string    `json:"source_url,omitempty"`
	SourceTitle *string    `json:"source_title,omitempty"`
	SourceName  *string    `json:"source_name,omitempty"`
}

// StagedFunding is one pre-parsed workbook row describing a grant.
type StagedFunding struct {
	ID             int64    `json:"id"`
	RowNum         int      `json:"row_num"`
	RecipientName  string   `json:"recipient_name"`
	FiscalYear     *int     `json:"fiscal_year,omitempty"`
	AmountNOK      *float64 `json:"amount_nok,omitempty"`
	FundingChannel *string  `json:"funding_channel,omitempty"`
	Notes          *string  `json:"notes,omitempty"`
	SourceURL      *string  `json:"source_url,omitempty"`
}

// IATITransaction is one staged transaction extracted from an IATI
// activity file, uniquely identified by (ingest_run_id, event_key).
type IATITransaction struct {
	ID                     int64      `json:"id"`
	IngestRunID            string     `json:"ingest_run_id"`
	RegistryQuery          *string    `json:"registry_query,omitempty"`
	PackageName            *string    `json:"package_name,omitempty"`
	PackageTitle           *string    `json:"package_title,omitempty"`
	PackageURL             *string    `json:"package_url,omitempty"`
	PublisherIATIID        *string    `json:"publisher_iati_id,omitempty"`
	ResourceURL            string     `json:"resource_url"`
	ActivityIATIIdentifier string     `json:"activity_iati_identifier"`
	ActivityTitle          *string    `json:"activity_title,omitempty"`
	ReportingOrgRef        *string    `json:"reporting_org_ref,omitempty"`
	ReportingOrgName       *string    `json:"reporting_org_name,omitempty"`
	RecipientCountryCode   *string    `json:"recipient_country_code,omitempty"`
	TransactionRef         *string    `json:"transaction_ref,omitempty"`
	TransactionTypeCode    *string    `json:"transaction_type_code,omitempty"`
	TransactionDate        *time.Time `json:"transaction_date,omitempty"`
	ValueDate              *time.Time `json:"value_date,omitempty"`
	ValueAmount            float64    `json:"value_amount"`
	ValueCurrency          *string    `json:"value_currency,omitempty"`
	ReceiverOrgRef         *string    `json:"receiver_org_ref,omitempty"`
	ReceiverOrgName        *string    `json:"receiver_org_name,omitempty"`
	ProviderOrgRef         *string    `json:"provider_org_ref,omitempty"`
	ProviderOrgName        *string    `json:"provider_org_name,omitempty"`
	EventKey               string     `json:"event_key"`
}
