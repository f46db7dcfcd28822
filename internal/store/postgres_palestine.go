package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/bstandal/NorConnect/internal/model"
)

// palestineFlowRowsSQL selects UD-funded flows toward Palestinian
// recipients, joined back to the staged IATI transaction each flow was
// normalized from. The inner DISTINCT ON keeps one staged transaction per
// flow when the same event key appears across ingest runs; the outer sort
// puts the newest activity first, dated rows before undated ones.
const palestineFlowRowsSQL = `
	SELECT q.* FROM (
		SELECT DISTINCT ON (ff.id)
			ff.id, ff.donor_org_id, donor.name AS donor_name,
			ff.recipient_org_id, recip.name AS recipient_name, ff.recipient_name_raw,
			ff.fiscal_year, tx.transaction_date, ff.period_start, ff.period_end,
			ff.amount_nok, ff.amount_original, ff.currency_code,
			ff.funding_channel, tx.provider_org_name, tx.activity_title, tx.resource_url,
			ff.confidence
		FROM funding_flow ff
		LEFT JOIN organization donor ON donor.id = ff.donor_org_id
		LEFT JOIN organization recip ON recip.id = ff.recipient_org_id
		LEFT JOIN funding_ingest_key fik
			ON fik.funding_flow_id = ff.id AND fik.source_system = 'iati_registry'
		LEFT JOIN stg_iati_transaction tx ON tx.event_key = fik.event_key
		WHERE (tx.recipient_country_code = 'PS'
				OR lower(COALESCE(recip.name, ff.recipient_name_raw, '')) LIKE '%palestin%')
			AND btrim(COALESCE(recip.name, ff.recipient_name_raw, '')) <> ''
			AND lower(btrim(COALESCE(recip.name, ff.recipient_name_raw, ''))) <> 'undefined'
			AND (donor.name = 'Utenriksdepartementet'
				OR tx.provider_org_name IN ('Norwegian Ministry of Foreign Affairs',
					'Norwegian Ministry of Foreign Affairs - Embassies'))
		ORDER BY ff.id, tx.id DESC
	) q
	ORDER BY COALESCE(q.transaction_date, q.period_start, q.period_end) DESC NULLS LAST, q.id DESC`

// FetchPalestineFundingRows returns every UD-to-Palestine funding flow with
// its staged transaction context, newest first.
func (s *PostgresStore) FetchPalestineFundingRows(ctx context.Context) ([]model.PalestineFlowRow, error) {
	rows, err := s.pool.Query(ctx, palestineFlowRowsSQL)
	if err != nil {
		return nil, eris.Wrap(err, "store: fetch palestine funding rows")
	}
	defer rows.Close()

	var out []model.PalestineFlowRow
	for rows.Next() {
		var r model.PalestineFlowRow
		if err := rows.Scan(&r.FlowID, &r.DonorOrgID, &r.DonorOrgName,
			&r.RecipientOrgID, &r.RecipientOrgName, &r.RecipientNameRaw,
			&r.FiscalYear, &r.TransactionDate, &r.PeriodStart, &r.PeriodEnd,
			&r.AmountNOK, &r.AmountOriginal, &r.CurrencyCode,
			&r.FundingChannel, &r.ProviderOrgName, &r.ActivityTitle, &r.ResourceURL,
			&r.Confidence); err != nil {
			return nil, eris.Wrap(err, "store: scan palestine funding row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
