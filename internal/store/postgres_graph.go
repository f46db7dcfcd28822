package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/bstandal/NorConnect/internal/model"
)

const roleRowsSQL = `
	SELECT re.id, p.id, p.full_name, o.id, o.name, o.org_type,
		re.role_title, re.start_on, re.end_on, re.source_quote, re.confidence,
		COALESCE(json_agg(DISTINCT jsonb_build_object(
			'url', sd.url, 'title', sd.title, 'source_name', sd.source_name
		)) FILTER (WHERE sd.id IS NOT NULL), '[]')
	FROM role_event re
	JOIN person p ON p.id = re.person_id
	JOIN organization o ON o.id = re.organization_id
	LEFT JOIN role_event_source res ON res.role_event_id = re.id
	LEFT JOIN source_document sd ON sd.id = res.source_document_id`

const roleRowsGroup = ` GROUP BY re.id, p.id, o.id ORDER BY re.id`

// FetchRoleRows returns every role event joined with names and sources.
func (s *PostgresStore) FetchRoleRows(ctx context.Context) ([]model.RoleRow, error) {
	rows, err := s.pool.Query(ctx, roleRowsSQL+roleRowsGroup)
	if err != nil {
		return nil, eris.Wrap(err, "store: fetch role rows")
	}
	defer rows.Close()
	return scanRoleRows(rows)
}

// FetchRoleRow returns one role event with names and sources, or (nil, nil)
// when the id does not exist.
func (s *PostgresStore) FetchRoleRow(ctx context.Context, roleEventID int64) (*model.RoleRow, error) {
	rows, err := s.pool.Query(ctx, roleRowsSQL+` WHERE re.id = $1`+roleRowsGroup, roleEventID)
	if err != nil {
		return nil, eris.Wrap(err, "store: fetch role row")
	}
	defer rows.Close()

	out, err := scanRoleRows(rows)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func scanRoleRows(rows pgx.Rows) ([]model.RoleRow, error) {
	var out []model.RoleRow
	for rows.Next() {
		var r model.RoleRow
		var sources []byte
		if err := rows.Scan(&r.RoleEventID, &r.PersonID, &r.PersonName,
			&r.OrganizationID, &r.OrganizationName, &r.OrgType,
			&r.RoleTitle, &r.StartOn, &r.EndOn, &r.SourceQuote, &r.Confidence, &sources); err != nil {
			return nil, eris.Wrap(err, "store: scan role row")
		}
		if err := json.Unmarshal(sources, &r.Sources); err != nil {
			return nil, eris.Wrap(err, "store: decode role sources")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const fundingRowsSQL = `
	SELECT ff.id, ff.donor_org_id, donor.name, ff.donor_country_code,
		ff.recipient_org_id, recip.name, recip.org_type, ff.recipient_name_raw,
		ff.fiscal_year, ff.period_start, ff.period_end, ff.amount_nok, ff.amount_original, ff.currency_code,
		ff.funding_channel, ff.flow_type, ff.confidence,
		COALESCE(json_agg(DISTINCT jsonb_build_object(
			'url', sd.url, 'title', sd.title, 'source_name', sd.source_name
		)) FILTER (WHERE sd.id IS NOT NULL), '[]')
	FROM funding_flow ff
	LEFT JOIN organization donor ON donor.id = ff.donor_org_id
	LEFT JOIN organization recip ON recip.id = ff.recipient_org_id
	LEFT JOIN funding_flow_source ffs ON ffs.funding_flow_id = ff.id
	LEFT JOIN source_document sd ON sd.id = ffs.source_document_id`

const fundingRowsGroup = ` GROUP BY ff.id, donor.id, recip.id ORDER BY ff.id`

// FetchFundingRows returns every funding flow joined with names and sources.
func (s *PostgresStore) FetchFundingRows(ctx context.Context) ([]model.FundingRow, error) {
	rows, err := s.pool.Query(ctx, fundingRowsSQL+fundingRowsGroup)
	if err != nil {
		return nil, eris.Wrap(err, "store: fetch funding rows")
	}
	defer rows.Close()
	return scanFundingRows(rows)
}

// FetchFundingRow returns one funding flow with names and sources, or
// (nil, nil) when the id does not exist.
func (s *PostgresStore) FetchFundingRow(ctx context.Context, flowID int64) (*model.FundingRow, error) {
	rows, err := s.pool.Query(ctx, fundingRowsSQL+` WHERE ff.id = $1`+fundingRowsGroup, flowID)
	if err != nil {
		return nil, eris.Wrap(err, "store: fetch funding row")
	}
	defer rows.Close()

	out, err := scanFundingRows(rows)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func scanFundingRows(rows pgx.Rows) ([]model.FundingRow, error) {
	var out []model.FundingRow
	for rows.Next() {
		var r model.FundingRow
		var sources []byte
		if err := rows.Scan(&r.FlowID, &r.DonorOrgID, &r.DonorOrgName, &r.DonorCountryCode,
			&r.RecipientOrgID, &r.RecipientOrgName, &r.RecipientOrgType, &r.RecipientNameRaw,
			&r.FiscalYear, &r.PeriodStart, &r.PeriodEnd, &r.AmountNOK, &r.AmountOriginal, &r.CurrencyCode,
			&r.FundingChannel, &r.FlowType, &r.Confidence, &sources); err != nil {
			return nil, eris.Wrap(err, "store: scan funding row")
		}
		if err := json.Unmarshal(sources, &r.Sources); err != nil {
			return nil, eris.Wrap(err, "store: decode funding sources")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchPersonLinkRows returns every person link joined with names and sources.
func (s *PostgresStore) FetchPersonLinkRows(ctx context.Context) ([]model.PersonLinkRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pl.id, pl.person_a_id, pa.full_name, pl.person_b_id, pb.full_name,
			pl.relation_type, pl.description, pl.start_year, pl.end_year, pl.confidence,
			COALESCE(json_agg(DISTINCT jsonb_build_object(
				'url', sd.url, 'title', sd.title, 'source_name', sd.source_name
			)) FILTER (WHERE sd.id IS NOT NULL), '[]')
		FROM person_link pl
		JOIN person pa ON pa.id = pl.person_a_id
		JOIN person pb ON pb.id = pl.person_b_id
		LEFT JOIN person_link_source pls ON pls.person_link_id = pl.id
		LEFT JOIN source_document sd ON sd.id = pls.source_document_id
		GROUP BY pl.id, pa.id, pb.id ORDER BY pl.id`)
	if err != nil {
		return nil, eris.Wrap(err, "store: fetch person link rows")
	}
	defer rows.Close()

	var out []model.PersonLinkRow
	for rows.Next() {
		var r model.PersonLinkRow
		var sources []byte
		if err := rows.Scan(&r.LinkID, &r.PersonAID, &r.PersonAName, &r.PersonBID, &r.PersonBName,
			&r.RelationType, &r.Description, &r.StartYear, &r.EndYear, &r.Confidence, &sources); err != nil {
			return nil, eris.Wrap(err, "store: scan person link row")
		}
		if err := json.Unmarshal(sources, &r.Sources); err != nil {
			return nil, eris.Wrap(err, "store: decode person link sources")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
