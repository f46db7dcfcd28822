package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/bstandal/NorConnect/internal/db"
	"github.com/bstandal/NorConnect/internal/model"
)

// iatiStagingColumns is the stg_iati_transaction column order for bulk
// loads.
var iatiStagingColumns = []string{
	"ingest_run_id", "registry_query", "package_name", "package_title", "package_url",
	"publisher_iati_id", "resource_url", "activity_iati_identifier", "activity_title",
	"reporting_org_ref", "reporting_org_name", "recipient_country_code",
	"transaction_ref", "transaction_type_code", "transaction_date", "value_date",
	"value_amount", "value_currency", "receiver_org_ref", "receiver_org_name",
	"provider_org_ref", "provider_org_name", "event_key",
}

// InsertIATITransactions stages harvested transactions through a bulk
// COPY-and-insert. Duplicate event keys within the same ingest run are
// silently suppressed; the count reflects rows actually written.
func (s *PostgresStore) InsertIATITransactions(ctx context.Context, txs []model.IATITransaction) (int64, error) {
	rows := make([][]any, 0, len(txs))
	for _, t := range txs {
		rows = append(rows, []any{
			t.IngestRunID, t.RegistryQuery, t.PackageName, t.PackageTitle, t.PackageURL,
			t.PublisherIATIID, t.ResourceURL, t.ActivityIATIIdentifier, t.ActivityTitle,
			t.ReportingOrgRef, t.ReportingOrgName, t.RecipientCountryCode,
			t.TransactionRef, t.TransactionTypeCode, t.TransactionDate, t.ValueDate,
			t.ValueAmount, t.ValueCurrency, t.ReceiverOrgRef, t.ReceiverOrgName,
			t.ProviderOrgRef, t.ProviderOrgName, t.EventKey,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "stg_iati_transaction",
		Columns:      iatiStagingColumns,
		ConflictKeys: []string{"ingest_run_id", "event_key"},
		DoNothing:    true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "store: stage iati transactions")
	}
	return n, nil
}

// ListIATITransactions returns staged transactions, optionally filtered to
// one ingest run.
func (s *PostgresStore) ListIATITransactions(ctx context.Context, ingestRunID string) ([]model.IATITransaction, error) {
	sql := `SELECT id, ingest_run_id, registry_query, package_name, package_title, package_url,
			publisher_iati_id, resource_url, activity_iati_identifier, activity_title,
			reporting_org_ref, reporting_org_name, recipient_country_code,
			transaction_ref, transaction_type_code, transaction_date, value_date,
			value_amount, value_currency, receiver_org_ref, receiver_org_name,
			provider_org_ref, provider_org_name, event_key
		FROM stg_iati_transaction`
	var args []any
	if ingestRunID != "" {
		sql += ` WHERE ingest_run_id = $1`
		args = append(args, ingestRunID)
	}
	sql += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list iati transactions")
	}
	defer rows.Close()

	var out []model.IATITransaction
	for rows.Next() {
		var t model.IATITransaction
		if err := rows.Scan(
			&t.ID, &t.IngestRunID, &t.RegistryQuery, &t.PackageName, &t.PackageTitle, &t.PackageURL,
			&t.PublisherIATIID, &t.ResourceURL, &t.ActivityIATIIdentifier, &t.ActivityTitle,
			&t.ReportingOrgRef, &t.ReportingOrgName, &t.RecipientCountryCode,
			&t.TransactionRef, &t.TransactionTypeCode, &t.TransactionDate, &t.ValueDate,
			&t.ValueAmount, &t.ValueCurrency, &t.ReceiverOrgRef, &t.ReceiverOrgName,
			&t.ProviderOrgRef, &t.ProviderOrgName, &t.EventKey,
		); err != nil {
			return nil, eris.Wrap(err, "store: scan iati transaction")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertStagedPersonRoles bulk-loads parsed workbook role rows via COPY.
func (s *PostgresStore) InsertStagedPersonRoles(ctx context.Context, staged []model.StagedPersonRole) (int64, error) {
	rows := make([][]any, 0, len(staged))
	for _, r := range staged {
		rows = append(rows, []any{
			r.RowNum, r.FullName, r.OrgName, r.RoleTitle, r.StartOn, r.EndOn,
			r.SourceQuote, r.SourceURL, r.SourceTitle, r.SourceName,
		})
	}
	n, err := db.CopyFrom(ctx, s.pool, "stg_excel_person_role",
		[]string{"row_num", "full_name", "org_name", "role_title", "start_on", "end_on",
			"source_quote", "source_url", "source_title", "source_name"}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "store: stage person roles")
	}
	return n, nil
}

// InsertStagedFunding bulk-loads parsed workbook funding rows via COPY.
func (s *PostgresStore) InsertStagedFunding(ctx context.Context, staged []model.StagedFunding) (int64, error) {
	rows := make([][]any, 0, len(staged))
	for _, r := range staged {
		rows = append(rows, []any{
			r.RowNum, r.RecipientName, r.FiscalYear, r.AmountNOK,
			r.FundingChannel, r.Notes, r.SourceURL,
		})
	}
	n, err := db.CopyFrom(ctx, s.pool, "stg_excel_funding",
		[]string{"row_num", "recipient_name", "fiscal_year", "amount_nok",
			"funding_channel", "notes", "source_url"}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "store: stage funding rows")
	}
	return n, nil
}

// ListStagedPersonRoles returns all staged workbook role rows.
func (s *PostgresStore) ListStagedPersonRoles(ctx context.Context) ([]model.StagedPersonRole, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, row_num, full_name, org_name, role_title, start_on, end_on,
			source_quote, source_url, source_title, source_name
		FROM stg_excel_person_role ORDER BY row_num`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list staged person roles")
	}
	defer rows.Close()

	var out []model.StagedPersonRole
	for rows.Next() {
		var r model.StagedPersonRole
		if err := rows.Scan(&r.ID, &r.RowNum, &r.FullName, &r.OrgName, &r.RoleTitle,
			&r.StartOn, &r.EndOn, &r.SourceQuote, &r.SourceURL, &r.SourceTitle, &r.SourceName); err != nil {
			return nil, eris.Wrap(err, "store: scan staged person role")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListStagedFunding returns all staged workbook funding rows.
func (s *PostgresStore) ListStagedFunding(ctx context.Context) ([]model.StagedFunding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, row_num, recipient_name, fiscal_year, amount_nok, funding_channel, notes, source_url
		FROM stg_excel_funding ORDER BY row_num`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list staged funding")
	}
	defer rows.Close()

	var out []model.StagedFunding
	for rows.Next() {
		var r model.StagedFunding
		if err := rows.Scan(&r.ID, &r.RowNum, &r.RecipientName, &r.FiscalYear,
			&r.AmountNOK, &r.FundingChannel, &r.Notes, &r.SourceURL); err != nil {
			return nil, eris.Wrap(err, "store: scan staged funding")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
