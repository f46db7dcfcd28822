package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
)

// FindEntity looks up a canonical entity by normalized name. Returns
// (nil, nil) when nothing matches.
func (s *PostgresStore) FindEntity(ctx context.Context, kind resolve.Kind, normalizedName string) (*resolve.EntityRecord, error) {
	stmt := "find_organization"
	if kind == resolve.KindPerson {
		stmt = "find_person"
	}
	rec, err := s.scanEntityRecord(s.pool.QueryRow(ctx, stmt, normalizedName), kind)
	if err != nil {
		return nil, eris.Wrapf(err, "store: find %s", kind)
	}
	return rec, nil
}

// FindEntityByAlias looks up a canonical entity through a learned alias.
// Returns (nil, nil) when nothing matches.
func (s *PostgresStore) FindEntityByAlias(ctx context.Context, kind resolve.Kind, normalizedAlias string) (*resolve.EntityRecord, error) {
	stmt := "find_organization_alias"
	if kind == resolve.KindPerson {
		stmt = "find_person_alias"
	}
	rec, err := s.scanEntityRecord(s.pool.QueryRow(ctx, stmt, normalizedAlias), kind)
	if err != nil {
		return nil, eris.Wrapf(err, "store: find %s alias", kind)
	}
	return rec, nil
}

func (s *PostgresStore) scanEntityRecord(row pgx.Row, kind resolve.Kind) (*resolve.EntityRecord, error) {
	var rec resolve.EntityRecord
	var err error
	if kind == resolve.KindPerson {
		err = row.Scan(&rec.ID, &rec.Name)
	} else {
		err = row.Scan(&rec.ID, &rec.Name, &rec.Ref)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertEntity inserts a canonical entity or, when the normalized name
// already exists, fills any still-null attributes from attrs. The bool
// reports whether a new row was created.
func (s *PostgresStore) UpsertEntity(ctx context.Context, kind resolve.Kind, name string, attrs map[string]any) (int64, bool, error) {
	norm := resolve.NormalizeName(name)
	if norm == "" {
		return 0, false, eris.Errorf("store: upsert %s: name normalizes to nothing", kind)
	}

	var (
		sql  string
		args []any
	)
	if kind == resolve.KindPerson {
		sql = `INSERT INTO person (full_name, normalized_name, country_code, birth_year, notes)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (normalized_name) DO UPDATE SET
				country_code = COALESCE(person.country_code, EXCLUDED.country_code),
				birth_year   = COALESCE(person.birth_year, EXCLUDED.birth_year),
				notes        = COALESCE(person.notes, EXCLUDED.notes)
			RETURNING id, (xmax = 0) AS inserted`
		args = []any{name, norm, strAttr(attrs, "country_code"), intAttr(attrs, "birth_year"), strAttr(attrs, "notes")}
	} else {
		sql = `INSERT INTO organization (name, normalized_name, org_type, country_code, org_ref, notes)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (normalized_name) DO UPDATE SET
				org_type     = COALESCE(organization.org_type, EXCLUDED.org_type),
				country_code = COALESCE(organization.country_code, EXCLUDED.country_code),
				org_ref      = COALESCE(organization.org_ref, EXCLUDED.org_ref),
				notes        = COALESCE(organization.notes, EXCLUDED.notes)
			RETURNING id, (xmax = 0) AS inserted`
		args = []any{name, norm, strAttr(attrs, "org_type"), strAttr(attrs, "country_code"), strAttr(attrs, "org_ref"), strAttr(attrs, "notes")}
	}

	var id int64
	var inserted bool
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&id, &inserted); err != nil {
		return 0, false, eris.Wrapf(err, "store: upsert %s", kind)
	}
	return id, inserted, nil
}

// RegisterAlias records an alternate spelling for an entity. The first
// registration of a normalized alias wins.
func (s *PostgresStore) RegisterAlias(ctx context.Context, kind resolve.Kind, entityID int64, alias, sourceSystem string) error {
	norm := resolve.NormalizeName(alias)
	if norm == "" {
		return nil
	}
	sql := `INSERT INTO organization_alias (organization_id, alias, normalized_alias, source_system)
		VALUES ($1, $2, $3, $4) ON CONFLICT (normalized_alias) DO NOTHING`
	if kind == resolve.KindPerson {
		sql = `INSERT INTO person_alias (person_id, alias, normalized_alias, source_system)
			VALUES ($1, $2, $3, $4) ON CONFLICT (normalized_alias) DO NOTHING`
	}
	if _, err := s.pool.Exec(ctx, sql, entityID, alias, norm, sourceSystem); err != nil {
		return eris.Wrapf(err, "store: register %s alias", kind)
	}
	return nil
}

// ListPersons returns all canonical persons.
func (s *PostgresStore) ListPersons(ctx context.Context) ([]model.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, full_name, normalized_name, country_code, birth_year, notes FROM person ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list persons")
	}
	defer rows.Close()

	var out []model.Person
	for rows.Next() {
		var p model.Person
		if err := rows.Scan(&p.ID, &p.FullName, &p.NormalizedName, &p.CountryCode, &p.BirthYear, &p.Notes); err != nil {
			return nil, eris.Wrap(err, "store: scan person")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListOrganizations returns all canonical organizations.
func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, normalized_name, org_type, country_code, org_ref, notes FROM organization ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list organizations")
	}
	defer rows.Close()

	var out []model.Organization
	for rows.Next() {
		var o model.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.NormalizedName, &o.OrgType, &o.CountryCode, &o.OrgRef, &o.Notes); err != nil {
			return nil, eris.Wrap(err, "store: scan organization")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListOrganizationAliases returns all learned organization aliases.
func (s *PostgresStore) ListOrganizationAliases(ctx context.Context) ([]model.OrganizationAlias, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT organization_id, alias, normalized_alias, source_system FROM organization_alias`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list organization aliases")
	}
	defer rows.Close()

	var out []model.OrganizationAlias
	for rows.Next() {
		var a model.OrganizationAlias
		if err := rows.Scan(&a.OrganizationID, &a.Alias, &a.NormalizedAlias, &a.SourceSystem); err != nil {
			return nil, eris.Wrap(err, "store: scan organization alias")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertSourceDocument inserts a provenance record keyed by URL, filling
// still-null attributes on conflict, and returns its id.
func (s *PostgresStore) UpsertSourceDocument(ctx context.Context, doc model.SourceDocument) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO source_document (url, title, source_name, doc_type, published_on)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (url) DO UPDATE SET
			title        = COALESCE(source_document.title, EXCLUDED.title),
			source_name  = COALESCE(source_document.source_name, EXCLUDED.source_name),
			doc_type     = COALESCE(source_document.doc_type, EXCLUDED.doc_type),
			published_on = COALESCE(source_document.published_on, EXCLUDED.published_on)
		RETURNING id`,
		doc.URL, doc.Title, doc.SourceName, doc.DocType, doc.PublishedOn,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "store: upsert source document")
	}
	return id, nil
}

// EnsureRoleEvent finds a role event by its identity (person, organization,
// title, start date) and fills gaps, or inserts it. Returns the row id.
func (s *PostgresStore) EnsureRoleEvent(ctx context.Context, ev model.RoleEvent) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM role_event
		WHERE person_id = $1 AND organization_id = $2 AND role_title = $3
			AND start_on IS NOT DISTINCT FROM $4`,
		ev.PersonID, ev.OrganizationID, ev.RoleTitle, ev.StartOn,
	).Scan(&id)

	switch {
	case err == nil:
		_, err = s.pool.Exec(ctx,
			`UPDATE role_event SET
				end_on       = COALESCE(end_on, $2),
				source_quote = COALESCE(source_quote, $3),
				confidence   = GREATEST(confidence, $4)
			WHERE id = $1`,
			id, ev.EndOn, ev.SourceQuote, ev.Confidence)
		if err != nil {
			return 0, eris.Wrap(err, "store: update role event")
		}
		return id, nil
	case errors.Is(err, pgx.ErrNoRows):
		err = s.pool.QueryRow(ctx,
			`INSERT INTO role_event (person_id, organization_id, role_title, start_on, end_on, source_quote, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			ev.PersonID, ev.OrganizationID, ev.RoleTitle, ev.StartOn, ev.EndOn, ev.SourceQuote, ev.Confidence,
		).Scan(&id)
		if err != nil {
			return 0, eris.Wrap(err, "store: insert role event")
		}
		return id, nil
	default:
		return 0, eris.Wrap(err, "store: find role event")
	}
}

// UpsertPersonLink inserts an undirected person relation, normalizing the
// pair order, and on conflict fills gaps and keeps the higher confidence.
func (s *PostgresStore) UpsertPersonLink(ctx context.Context, link model.PersonLink) (int64, error) {
	a, b := link.PersonAID, link.PersonBID
	if a > b {
		a, b = b, a
	}
	if a == b {
		return 0, eris.New("store: person link needs two distinct persons")
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO person_link (person_a_id, person_b_id, relation_type, description, start_year, end_year, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (person_a_id, person_b_id, relation_type) DO UPDATE SET
			description = COALESCE(person_link.description, EXCLUDED.description),
			start_year  = COALESCE(person_link.start_year, EXCLUDED.start_year),
			end_year    = COALESCE(person_link.end_year, EXCLUDED.end_year),
			confidence  = GREATEST(person_link.confidence, EXCLUDED.confidence)
		RETURNING id`,
		a, b, link.RelationType, link.Description, link.StartYear, link.EndYear, link.Confidence,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "store: upsert person link")
	}
	return id, nil
}

// LinkRoleSource attaches a source document to a role event.
func (s *PostgresStore) LinkRoleSource(ctx context.Context, roleEventID, sourceDocumentID int64, relationType string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO role_event_source (role_event_id, source_document_id, relation_type)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		roleEventID, sourceDocumentID, relationType)
	if err != nil {
		return eris.Wrap(err, "store: link role source")
	}
	return nil
}

// LinkFundingSource attaches a source document to a funding flow.
func (s *PostgresStore) LinkFundingSource(ctx context.Context, fundingFlowID, sourceDocumentID int64, relationType string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO funding_flow_source (funding_flow_id, source_document_id, relation_type)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		fundingFlowID, sourceDocumentID, relationType)
	if err != nil {
		return eris.Wrap(err, "store: link funding source")
	}
	return nil
}

// LinkOrganizationSource attaches a source document to an organization,
// e.g. the IATI resource a recipient name was first seen in.
func (s *PostgresStore) LinkOrganizationSource(ctx context.Context, organizationID, sourceDocumentID int64, relationType string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO organization_source (organization_id, source_document_id, relation_type)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		organizationID, sourceDocumentID, relationType)
	if err != nil {
		return eris.Wrap(err, "store: link organization source")
	}
	return nil
}

// LinkPersonLinkSource attaches a source document to a person link.
func (s *PostgresStore) LinkPersonLinkSource(ctx context.Context, personLinkID, sourceDocumentID int64, relationType string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO person_link_source (person_link_id, source_document_id, relation_type)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		personLinkID, sourceDocumentID, relationType)
	if err != nil {
		return eris.Wrap(err, "store: link person link source")
	}
	return nil
}

func strAttr(attrs map[string]any, key string) *string {
	if v, ok := attrs[key]; ok {
		switch t := v.(type) {
		case string:
			if t != "" {
				return &t
			}
		case *string:
			return t
		}
	}
	return nil
}

func intAttr(attrs map[string]any, key string) *int {
	if v, ok := attrs[key]; ok {
		switch t := v.(type) {
		case int:
			return &t
		case *int:
			return t
		}
	}
	return nil
}
