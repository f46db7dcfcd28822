// Package store persists the canonical aid-network model in Postgres.
package store

import (
	"context"

	"github.com/bstandal/NorConnect/internal/db"
	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
)

// Store defines the persistence interface for the reconciliation pipeline
// and the graph API.
type Store interface {
	// Entity resolution surface, shared by person and organization kinds.
	resolve.Directory

	// Entities
	ListPersons(ctx context.Context) ([]model.Person, error)
	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	ListOrganizationAliases(ctx context.Context) ([]model.OrganizationAlias, error)
	UpsertSourceDocument(ctx context.Context, doc model.SourceDocument) (int64, error)
	EnsureRoleEvent(ctx context.Context, ev model.RoleEvent) (int64, error)
	UpsertPersonLink(ctx context.Context, link model.PersonLink) (int64, error)
	LinkRoleSource(ctx context.Context, roleEventID, sourceDocumentID int64, relationType string) error
	LinkFundingSource(ctx context.Context, fundingFlowID, sourceDocumentID int64, relationType string) error
	LinkPersonLinkSource(ctx context.Context, personLinkID, sourceDocumentID int64, relationType string) error

	// Funding flows
	GetFlowIDByIngestKey(ctx context.Context, sourceSystem, eventKey string) (*int64, error)
	InsertFundingFlowWithKey(ctx context.Context, flow model.FundingFlow, key model.IngestKey, sourceDocumentID *int64, relationType string) (int64, error)
	UpsertCompositeFundingFlow(ctx context.Context, flow model.FundingFlow) (int64, bool, error)
	AttachFlowRecipient(ctx context.Context, recipientNameRaw string, orgID int64, confidenceBoost, maxConfidence float64) (int64, error)

	// Staging
	InsertIATITransactions(ctx context.Context, rows []model.IATITransaction) (int64, error)
	ListIATITransactions(ctx context.Context, ingestRunID string) ([]model.IATITransaction, error)
	InsertStagedPersonRoles(ctx context.Context, rows []model.StagedPersonRole) (int64, error)
	InsertStagedFunding(ctx context.Context, rows []model.StagedFunding) (int64, error)
	ListStagedPersonRoles(ctx context.Context) ([]model.StagedPersonRole, error)
	ListStagedFunding(ctx context.Context) ([]model.StagedFunding, error)

	// Graph queries
	FetchRoleRows(ctx context.Context) ([]model.RoleRow, error)
	FetchRoleRow(ctx context.Context, roleEventID int64) (*model.RoleRow, error)
	FetchFundingRows(ctx context.Context) ([]model.FundingRow, error)
	FetchFundingRow(ctx context.Context, flowID int64) (*model.FundingRow, error)
	FetchPersonLinkRows(ctx context.Context) ([]model.PersonLinkRow, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Pool() db.Pool
	Close() error
}
