package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/bstandal/NorConnect/internal/model"
)

// GetFlowIDByIngestKey returns the funding flow already normalized from a
// staged event, or (nil, nil) if the event is new.
func (s *PostgresStore) GetFlowIDByIngestKey(ctx context.Context, sourceSystem, eventKey string) (*int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, "get_flow_by_ingest_key", sourceSystem, eventKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get flow by ingest key")
	}
	return &id, nil
}

// InsertFundingFlowWithKey inserts a funding flow together with its ingest
// key and optional source link in one transaction, so a staged event is
// either fully normalized or not at all.
func (s *PostgresStore) InsertFundingFlowWithKey(ctx context.Context, flow model.FundingFlow, key model.IngestKey, sourceDocumentID *int64, relationType string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "store: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO funding_flow (donor_org_id, donor_country_code, recipient_org_id, recipient_name_raw,
			fiscal_year, period_start, period_end, amount_nok, amount_original, currency_code, funding_channel, flow_type, confidence, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`,
		flow.DonorOrgID, flow.DonorCountryCode, flow.RecipientOrgID, flow.RecipientNameRaw,
		flow.FiscalYear, flow.PeriodStart, flow.PeriodEnd, flow.AmountNOK, flow.AmountOriginal, flow.CurrencyCode,
		flow.FundingChannel, flow.FlowType, flow.Confidence, flow.Notes,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "store: insert funding flow")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO funding_ingest_key (source_system, event_key, funding_flow_id) VALUES ($1, $2, $3)`,
		key.SourceSystem, key.EventKey, id); err != nil {
		return 0, eris.Wrap(err, "store: insert ingest key")
	}

	if sourceDocumentID != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO funding_flow_source (funding_flow_id, source_document_id, relation_type)
			VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			id, *sourceDocumentID, relationType); err != nil {
			return 0, eris.Wrap(err, "store: link funding source")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "store: commit")
	}
	return id, nil
}

// UpsertCompositeFundingFlow deduplicates a flow on its full identity
// (donor, recipient, year, channel, type). An existing row only gains notes
// it was missing; a new row is inserted otherwise. The bool reports whether
// a row was created.
func (s *PostgresStore) UpsertCompositeFundingFlow(ctx context.Context, flow model.FundingFlow) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM funding_flow
		WHERE donor_org_id IS NOT DISTINCT FROM $1
			AND recipient_org_id IS NOT DISTINCT FROM $2
			AND recipient_name_raw IS NOT DISTINCT FROM $3
			AND fiscal_year IS NOT DISTINCT FROM $4
			AND funding_channel IS NOT DISTINCT FROM $5
			AND flow_type IS NOT DISTINCT FROM $6
		LIMIT 1`,
		flow.DonorOrgID, flow.RecipientOrgID, flow.RecipientNameRaw,
		flow.FiscalYear, flow.FundingChannel, flow.FlowType,
	).Scan(&id)

	switch {
	case err == nil:
		if _, err := s.pool.Exec(ctx,
			`UPDATE funding_flow SET notes = COALESCE(notes, $2) WHERE id = $1`,
			id, flow.Notes); err != nil {
			return 0, false, eris.Wrap(err, "store: update funding flow notes")
		}
		return id, false, nil
	case errors.Is(err, pgx.ErrNoRows):
		err = s.pool.QueryRow(ctx,
			`INSERT INTO funding_flow (donor_org_id, donor_country_code, recipient_org_id, recipient_name_raw,
				fiscal_year, period_start, period_end, amount_nok, amount_original, currency_code, funding_channel, flow_type, confidence, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`,
			flow.DonorOrgID, flow.DonorCountryCode, flow.RecipientOrgID, flow.RecipientNameRaw,
			flow.FiscalYear, flow.PeriodStart, flow.PeriodEnd, flow.AmountNOK, flow.AmountOriginal, flow.CurrencyCode,
			flow.FundingChannel, flow.FlowType, flow.Confidence, flow.Notes,
		).Scan(&id)
		if err != nil {
			return 0, false, eris.Wrap(err, "store: insert funding flow")
		}
		return id, true, nil
	default:
		return 0, false, eris.Wrap(err, "store: find funding flow")
	}
}

// AttachFlowRecipient resolves unmatched flows whose raw recipient name
// equals recipientNameRaw onto orgID, raising confidence by confidenceBoost
// up to maxConfidence. Returns the number of rows updated.
func (s *PostgresStore) AttachFlowRecipient(ctx context.Context, recipientNameRaw string, orgID int64, confidenceBoost, maxConfidence float64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE funding_flow
		SET recipient_org_id = $1, confidence = LEAST(confidence + $3, $4)
		WHERE recipient_org_id IS NULL
			AND lower(btrim(recipient_name_raw)) = lower(btrim($2))`,
		orgID, recipientNameRaw, confidenceBoost, maxConfidence)
	if err != nil {
		return 0, eris.Wrap(err, "store: attach flow recipient")
	}
	return tag.RowsAffected(), nil
}
