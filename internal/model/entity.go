// Package model defines the canonical entities shared across ingestion,
// resolution, and graph assembly.
package model

import "time"

// Person is a canonical person record merged from all sources.
type Person struct {
	ID             int64   `json:"id"`
	FullName       string  `json:"full_name"`
	NormalizedName string  `json:"normalized_name"`
	CountryCode    *string `json:"country_code,omitempty"`
	BirthYear      *int    `json:"birth_year,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

// Organization is a canonical organization record merged from all sources.
type Organization struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	NormalizedName string  `json:"normalized_name"`
	OrgType        *string `json:"org_type,omitempty"`
	CountryCode    *string `json:"country_code,omitempty"`
	OrgRef         *string `json:"org_ref,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

// OrganizationAlias records an alternate spelling learned while mapping a
// source name onto an existing organization.
type OrganizationAlias struct {
	OrganizationID  int64  `json:"organization_id"`
	Alias           string `json:"alias"`
	NormalizedAlias string `json:"normalized_alias"`
	SourceSystem    string `json:"source_system"`
}

// RoleEvent records a person holding a role at an organization over a span.
type RoleEvent struct {
	ID             int64      `json:"id"`
	PersonID       int64      `json:"person_id"`
	OrganizationID int64      `json:"organization_id"`
	RoleTitle      string     `json:"role_title"`
	StartOn        *time.Time `json:"start_on,omitempty"`
	EndOn          *time.Time `json:"end_on,omitempty"`
	SourceQuote    *string    `json:"source_quote,omitempty"`
	Confidence     float64    `json:"confidence"`
}

// PersonLink is an undirected relation between two persons. The pair is
// stored sorted so (a, b) and (b, a) collapse to one row.
type PersonLink struct {
	ID           int64   `json:"id"`
	PersonAID    int64   `json:"person_a_id"`
	PersonBID    int64   `json:"person_b_id"`
	RelationType string  `json:"relation_type"`
	Description  *string `json:"description,omitempty"`
	StartYear    *int    `json:"start_year,omitempty"`
	EndYear      *int    `json:"end_year,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// SourceDocument is a provenance record, keyed by URL.
type SourceDocument struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Title       *string    `json:"title,omitempty"`
	SourceName  *string    `json:"source_name,omitempty"`
	DocType     *string    `json:"doc_type,omitempty"`
	PublishedOn *time.Time `json:"published_on,omitempty"`
}
