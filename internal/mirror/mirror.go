// Package mirror replicates the canonical Postgres graph into Neo4j for
// cypher exploration. The read side of the application stays in Postgres;
// the mirror is write-only and idempotent through MERGE on stable keys.
package mirror

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
	"github.com/bstandal/NorConnect/internal/runlog"
)

// graphLabels are the node labels the mirror manages; purge removes
// exactly these.
var graphLabels = []string{
	"Person",
	"Organization",
	"RoleEvent",
	"FundingFlow",
	"SourceDocument",
	"ExternalRecipient",
	"Country",
}

// constraints applied before every sync. MERGE keys must be unique for
// idempotency to hold.
var constraints = []string{
	"CREATE CONSTRAINT person_pg_id IF NOT EXISTS FOR (p:Person) REQUIRE p.pg_id IS UNIQUE",
	"CREATE CONSTRAINT organization_pg_id IF NOT EXISTS FOR (o:Organization) REQUIRE o.pg_id IS UNIQUE",
	"CREATE CONSTRAINT role_event_pg_id IF NOT EXISTS FOR (r:RoleEvent) REQUIRE r.pg_id IS UNIQUE",
	"CREATE CONSTRAINT funding_flow_pg_id IF NOT EXISTS FOR (f:FundingFlow) REQUIRE f.pg_id IS UNIQUE",
	"CREATE CONSTRAINT source_document_url IF NOT EXISTS FOR (s:SourceDocument) REQUIRE s.url IS UNIQUE",
	"CREATE CONSTRAINT external_recipient_key IF NOT EXISTS FOR (e:ExternalRecipient) REQUIRE e.name_key IS UNIQUE",
	"CREATE CONSTRAINT country_code IF NOT EXISTS FOR (c:Country) REQUIRE c.code IS UNIQUE",
}

// Runner abstracts a Neo4j session; tests substitute a recorder.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

// sessionRunner adapts a driver session to Runner.
type sessionRunner struct {
	session neo4j.SessionWithContext
}

func (r sessionRunner) Run(ctx context.Context, cypher string, params map[string]any) error {
	result, err := r.session.Run(ctx, cypher, params)
	if err != nil {
		return eris.Wrap(err, "mirror: run cypher")
	}
	if _, err := result.Consume(ctx); err != nil {
		return eris.Wrap(err, "mirror: consume result")
	}
	return nil
}

// NewRunner wraps a Neo4j session for the mirror.
func NewRunner(session neo4j.SessionWithContext) Runner {
	return sessionRunner{session: session}
}

// Store is the Postgres read surface the mirror replicates.
type Store interface {
	ListPersons(ctx context.Context) ([]model.Person, error)
	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	FetchRoleRows(ctx context.Context) ([]model.RoleRow, error)
	FetchFundingRows(ctx context.Context) ([]model.FundingRow, error)
	FetchPersonLinkRows(ctx context.Context) ([]model.PersonLinkRow, error)
}

// RunLog records mirror runs.
type RunLog interface {
	Start(ctx context.Context, jobName string) (string, error)
	Complete(ctx context.Context, runID string, counters runlog.Counters) error
	Fail(ctx context.Context, runID string, counters runlog.Counters, message string) error
}

// Options bound one mirror pass.
type Options struct {
	// InitOnly applies constraints and stops.
	InitOnly bool
	// Purge detaches and deletes all managed nodes before syncing.
	Purge bool
	// BatchSize is rows per UNWIND statement; defaults to 500.
	BatchSize int
}

// Mirror syncs the canonical graph into Neo4j.
type Mirror struct {
	runner Runner
	store  Store
	runs   RunLog
}

// New wires a mirror.
func New(runner Runner, store Store, runs RunLog) *Mirror {
	return &Mirror{runner: runner, store: store, runs: runs}
}

// Run applies constraints, optionally purges, and merges every node and
// relationship. Reruns converge on the same graph.
func (m *Mirror) Run(ctx context.Context, opts Options) (string, runlog.Counters, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	for _, stmt := range constraints {
		if err := m.runner.Run(ctx, stmt, nil); err != nil {
			return "", nil, err
		}
	}
	if opts.InitOnly {
		return "", runlog.Counters{}, nil
	}

	runID, err := m.runs.Start(ctx, "mirror_neo4j")
	if err != nil {
		return "", nil, err
	}
	counters := runlog.Counters{}

	fail := func(err error) (string, runlog.Counters, error) {
		_ = m.runs.Fail(ctx, runID, counters, err.Error())
		return runID, counters, err
	}

	if opts.Purge {
		for _, label := range graphLabels {
			if err := m.runner.Run(ctx, "MATCH (n:"+label+") DETACH DELETE n", nil); err != nil {
				return fail(err)
			}
		}
	}

	if err := m.syncPersons(ctx, opts.BatchSize, counters); err != nil {
		return fail(err)
	}
	if err := m.syncOrganizations(ctx, opts.BatchSize, counters); err != nil {
		return fail(err)
	}
	if err := m.syncRoles(ctx, opts.BatchSize, counters); err != nil {
		return fail(err)
	}
	if err := m.syncFunding(ctx, opts.BatchSize, counters); err != nil {
		return fail(err)
	}
	if err := m.syncPersonLinks(ctx, opts.BatchSize, counters); err != nil {
		return fail(err)
	}

	if err := m.runs.Complete(ctx, runID, counters); err != nil {
		return runID, counters, err
	}
	zap.L().Info("neo4j mirror complete",
		zap.String("run_id", runID),
		zap.Int64("persons", counters["persons"]),
		zap.Int64("organizations", counters["organizations"]),
		zap.Int64("role_events", counters["role_events"]),
		zap.Int64("funding_flows", counters["funding_flows"]),
	)
	return runID, counters, nil
}

func (m *Mirror) batched(ctx context.Context, cypher string, rows []map[string]any, batchSize int) error {
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := m.runner.Run(ctx, cypher, map[string]any{"rows": rows[start:end]}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) syncPersons(ctx context.Context, batchSize int, counters runlog.Counters) error {
	persons, err := m.store.ListPersons(ctx)
	if err != nil {
		return err
	}
	rows := make([]map[string]any, 0, len(persons))
	for _, p := range persons {
		rows = append(rows, map[string]any{
			"id":           p.ID,
			"name":         p.FullName,
			"country_code": nullable(p.CountryCode),
		})
	}
	counters.Add("persons", int64(len(rows)))
	return m.batched(ctx, `
UNWIND $rows AS row
MERGE (p:Person {pg_id: row.id})
SET p.name = row.name,
    p.country_code = row.country_code`, rows, batchSize)
}

func (m *Mirror) syncOrganizations(ctx context.Context, batchSize int, counters runlog.Counters) error {
	orgs, err := m.store.ListOrganizations(ctx)
	if err != nil {
		return err
	}
	rows := make([]map[string]any, 0, len(orgs))
	for _, o := range orgs {
		rows = append(rows, map[string]any{
			"id":           o.ID,
			"name":         o.Name,
			"org_type":     nullable(o.OrgType),
			"country_code": nullable(o.CountryCode),
			"org_ref":      nullable(o.OrgRef),
		})
	}
	counters.Add("organizations", int64(len(rows)))
	return m.batched(ctx, `
UNWIND $rows AS row
MERGE (o:Organization {pg_id: row.id})
SET o.name = row.name,
    o.org_type = row.org_type,
    o.country_code = row.country_code,
    o.org_ref = row.org_ref`, rows, batchSize)
}

// syncRoles merges role-event nodes between their person and organization,
// with SUPPORTED_BY edges to each source document (keyed by URL).
func (m *Mirror) syncRoles(ctx context.Context, batchSize int, counters runlog.Counters) error {
	roleRows, err := m.store.FetchRoleRows(ctx)
	if err != nil {
		return err
	}
	rows := make([]map[string]any, 0, len(roleRows))
	for _, r := range roleRows {
		rows = append(rows, map[string]any{
			"id":              r.RoleEventID,
			"person_id":       r.PersonID,
			"organization_id": r.OrganizationID,
			"role_title":      r.RoleTitle,
			"start_on":        isoDate(r.StartOn),
			"end_on":          isoDate(r.EndOn),
			"confidence":      r.Confidence,
			"sources":         sourceParams(r.Sources),
		})
	}
	counters.Add("role_events", int64(len(rows)))
	return m.batched(ctx, `
UNWIND $rows AS row
MATCH (p:Person {pg_id: row.person_id})
MATCH (o:Organization {pg_id: row.organization_id})
MERGE (r:RoleEvent {pg_id: row.id})
SET r.role_title = row.role_title,
    r.start_on = row.start_on,
    r.end_on = row.end_on,
    r.confidence = row.confidence
MERGE (p)-[:HELD_ROLE]->(r)
MERGE (r)-[:AT_ORGANIZATION]->(o)
FOREACH (src IN row.sources |
  MERGE (s:SourceDocument {url: src.url})
  SET s.source_name = src.source_name, s.title = src.title
  MERGE (r)-[:SUPPORTED_BY]->(s))`, rows, batchSize)
}

// syncFunding splits flows by donor shape (organization vs country) and
// recipient shape (organization vs external name) and merges each variant
// with its own statement, matching the four relationship patterns.
func (m *Mirror) syncFunding(ctx context.Context, batchSize int, counters runlog.Counters) error {
	fundingRows, err := m.store.FetchFundingRows(ctx)
	if err != nil {
		return err
	}

	var orgToOrg, orgToExternal, countryToOrg, countryToExternal []map[string]any
	for _, f := range fundingRows {
		row := map[string]any{
			"id":              f.FlowID,
			"funding_channel": nullable(f.FundingChannel),
			"amount_nok":      nullableFloat(f.AmountNOK),
			"amount_original": nullableFloat(f.AmountOriginal),
			"currency_code":   nullable(f.CurrencyCode),
			"fiscal_year":     nullableInt(f.FiscalYear),
			"period_start":    isoDate(f.PeriodStart),
			"period_end":      isoDate(f.PeriodEnd),
			"confidence":      f.Confidence,
			"sources":         sourceParams(f.Sources),
		}
		hasRecipientOrg := f.RecipientOrgID != nil
		if hasRecipientOrg {
			row["recipient_organization_id"] = *f.RecipientOrgID
		} else {
			raw := deref(f.RecipientNameRaw)
			if raw == "" {
				continue
			}
			row["recipient_name_raw"] = raw
			row["recipient_name_key"] = resolve.ExternalRecipientKey(raw)
		}

		switch {
		case f.DonorOrgID != nil && hasRecipientOrg:
			row["donor_organization_id"] = *f.DonorOrgID
			orgToOrg = append(orgToOrg, row)
		case f.DonorOrgID != nil:
			row["donor_organization_id"] = *f.DonorOrgID
			orgToExternal = append(orgToExternal, row)
		case f.DonorCountryCode != nil && hasRecipientOrg:
			row["donor_country_code"] = *f.DonorCountryCode
			countryToOrg = append(countryToOrg, row)
		case f.DonorCountryCode != nil:
			row["donor_country_code"] = *f.DonorCountryCode
			countryToExternal = append(countryToExternal, row)
		default:
			continue
		}
		counters.Inc("funding_flows")
	}

	const flowProps = `
MERGE (f:FundingFlow {pg_id: row.id})
SET f.funding_channel = row.funding_channel,
    f.amount_nok = row.amount_nok,
    f.amount_original = row.amount_original,
    f.currency_code = row.currency_code,
    f.fiscal_year = row.fiscal_year,
    f.period_start = row.period_start,
    f.period_end = row.period_end,
    f.confidence = row.confidence`
	const flowSources = `
FOREACH (src IN row.sources |
  MERGE (s:SourceDocument {url: src.url})
  SET s.source_name = src.source_name, s.title = src.title
  MERGE (f)-[:SUPPORTED_BY]->(s))`

	if err := m.batched(ctx, `
UNWIND $rows AS row
MATCH (d:Organization {pg_id: row.donor_organization_id})
MATCH (rorg:Organization {pg_id: row.recipient_organization_id})`+flowProps+`
MERGE (d)-[:FUNDED]->(f)
MERGE (f)-[:TO_ORGANIZATION]->(rorg)`+flowSources, orgToOrg, batchSize); err != nil {
		return err
	}
	if err := m.batched(ctx, `
UNWIND $rows AS row
MATCH (d:Organization {pg_id: row.donor_organization_id})
MERGE (e:ExternalRecipient {name_key: row.recipient_name_key})
SET e.name = row.recipient_name_raw`+flowProps+`
MERGE (d)-[:FUNDED]->(f)
MERGE (f)-[:TO_EXTERNAL_RECIPIENT]->(e)`+flowSources, orgToExternal, batchSize); err != nil {
		return err
	}
	if err := m.batched(ctx, `
UNWIND $rows AS row
MERGE (c:Country {code: row.donor_country_code})
WITH row, c
MATCH (rorg:Organization {pg_id: row.recipient_organization_id})`+flowProps+`
MERGE (c)-[:FUNDED]->(f)
MERGE (f)-[:TO_ORGANIZATION]->(rorg)`+flowSources, countryToOrg, batchSize); err != nil {
		return err
	}
	return m.batched(ctx, `
UNWIND $rows AS row
MERGE (c:Country {code: row.donor_country_code})
MERGE (e:ExternalRecipient {name_key: row.recipient_name_key})
SET e.name = row.recipient_name_raw`+flowProps+`
MERGE (c)-[:FUNDED]->(f)
MERGE (f)-[:TO_EXTERNAL_RECIPIENT]->(e)`+flowSources, countryToExternal, batchSize)
}

func (m *Mirror) syncPersonLinks(ctx context.Context, batchSize int, counters runlog.Counters) error {
	linkRows, err := m.store.FetchPersonLinkRows(ctx)
	if err != nil {
		return err
	}
	rows := make([]map[string]any, 0, len(linkRows))
	for _, l := range linkRows {
		rows = append(rows, map[string]any{
			"id":            l.LinkID,
			"person_a_id":   l.PersonAID,
			"person_b_id":   l.PersonBID,
			"relation_type": l.RelationType,
			"description":   nullable(l.Description),
			"start_year":    nullableInt(l.StartYear),
			"end_year":      nullableInt(l.EndYear),
			"confidence":    l.Confidence,
		})
	}
	counters.Add("person_links", int64(len(rows)))
	return m.batched(ctx, `
UNWIND $rows AS row
MATCH (a:Person {pg_id: row.person_a_id})
MATCH (b:Person {pg_id: row.person_b_id})
MERGE (a)-[l:LINKED_TO {pg_id: row.id}]->(b)
SET l.relation_type = row.relation_type,
    l.description = row.description,
    l.start_year = row.start_year,
    l.end_year = row.end_year,
    l.confidence = row.confidence`, rows, batchSize)
}

func sourceParams(refs []model.SourceRef) []map[string]any {
	out := make([]map[string]any, 0, len(refs))
	for _, ref := range refs {
		if ref.URL == "" {
			continue
		}
		out = append(out, map[string]any{
			"url":         ref.URL,
			"source_name": nullable(ref.SourceName),
			"title":       nullable(ref.Title),
		})
	}
	return out
}

func isoDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
