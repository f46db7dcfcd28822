package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/db"
)

// preparedStatements are registered on every new connection. The directory
// lookups run once per staged row, so they stay server-side prepared.
var preparedStatements = map[string]string{
	"find_organization": `SELECT id, name, org_ref FROM organization WHERE normalized_name = $1`,
	"find_person":       `SELECT id, full_name FROM person WHERE normalized_name = $1`,
	"find_organization_alias": `SELECT o.id, o.name, o.org_ref
		FROM organization_alias a JOIN organization o ON o.id = a.organization_id
		WHERE a.normalized_alias = $1`,
	"find_person_alias": `SELECT p.id, p.full_name
		FROM person_alias a JOIN person p ON p.id = a.person_id
		WHERE a.normalized_alias = $1`,
	"get_flow_by_ingest_key": `SELECT funding_flow_id FROM funding_ingest_key
		WHERE source_system = $1 AND event_key = $2`,
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to Postgres, sizes the pool, registers prepared
// statements, and verifies the connection.
func NewPostgres(ctx context.Context, connString string, poolCfg PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse connection string")
	}

	if poolCfg.MaxConns > 0 {
		pgxCfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		pgxCfg.MinConns = poolCfg.MinConns
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "store: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "store: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping")
	}

	zap.L().Info("connected to postgres",
		zap.Int32("max_conns", pgxCfg.MaxConns),
		zap.Int32("min_conns", pgxCfg.MinConns),
	)
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying pool for bulk helpers.
func (s *PostgresStore) Pool() db.Pool { return s.pool }

// Ping verifies the connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return eris.Wrap(err, "store: ping")
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// migrationLockID serializes concurrent migrators on one advisory lock.
const migrationLockID = 472115

// Migrate applies the schema. Every statement is idempotent, so reruns are
// safe; the advisory lock keeps concurrent deploys from racing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return eris.Wrap(err, "store: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			zap.L().Warn("release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "store: apply migration")
	}
	zap.L().Info("schema migrated")
	return nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS person (
	id              BIGSERIAL PRIMARY KEY,
	full_name       TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE,
	country_code    TEXT,
	birth_year      INTEGER,
	notes           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS organization (
	id              BIGSERIAL PRIMARY KEY,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE,
	org_type        TEXT,
	country_code    TEXT,
	org_ref         TEXT,
	notes           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS organization_org_ref_idx
	ON organization (org_ref) WHERE org_ref IS NOT NULL;

CREATE TABLE IF NOT EXISTS organization_alias (
	organization_id  BIGINT NOT NULL REFERENCES organization(id) ON DELETE CASCADE,
	alias            TEXT NOT NULL,
	normalized_alias TEXT NOT NULL PRIMARY KEY,
	source_system    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS person_alias (
	person_id        BIGINT NOT NULL REFERENCES person(id) ON DELETE CASCADE,
	alias            TEXT NOT NULL,
	normalized_alias TEXT NOT NULL PRIMARY KEY,
	source_system    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS source_document (
	id           BIGSERIAL PRIMARY KEY,
	url          TEXT NOT NULL UNIQUE,
	title        TEXT,
	source_name  TEXT,
	doc_type     TEXT,
	published_on DATE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS role_event (
	id              BIGSERIAL PRIMARY KEY,
	person_id       BIGINT NOT NULL REFERENCES person(id) ON DELETE CASCADE,
	organization_id BIGINT NOT NULL REFERENCES organization(id) ON DELETE CASCADE,
	role_title      TEXT NOT NULL,
	start_on        DATE,
	end_on          DATE,
	source_quote    TEXT,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0.7,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS role_event_person_idx ON role_event (person_id);
CREATE INDEX IF NOT EXISTS role_event_org_idx ON role_event (organization_id);

CREATE TABLE IF NOT EXISTS person_link (
	id            BIGSERIAL PRIMARY KEY,
	person_a_id   BIGINT NOT NULL REFERENCES person(id) ON DELETE CASCADE,
	person_b_id   BIGINT NOT NULL REFERENCES person(id) ON DELETE CASCADE,
	relation_type TEXT NOT NULL,
	description   TEXT,
	start_year    INTEGER,
	end_year      INTEGER,
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0.7,
	CONSTRAINT person_link_sorted CHECK (person_a_id < person_b_id),
	UNIQUE (person_a_id, person_b_id, relation_type)
);

CREATE TABLE IF NOT EXISTS funding_flow (
	id                 BIGSERIAL PRIMARY KEY,
	donor_org_id       BIGINT REFERENCES organization(id) ON DELETE SET NULL,
	donor_country_code TEXT,
	recipient_org_id   BIGINT REFERENCES organization(id) ON DELETE SET NULL,
	recipient_name_raw TEXT,
	fiscal_year        INTEGER,
	period_start       DATE,
	period_end         DATE,
	amount_nok         DOUBLE PRECISION,
	amount_original    DOUBLE PRECISION,
	currency_code      TEXT,
	funding_channel    TEXT,
	flow_type          TEXT,
	confidence         DOUBLE PRECISION NOT NULL DEFAULT 0.7,
	notes              TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS funding_flow_recipient_idx ON funding_flow (recipient_org_id);
CREATE INDEX IF NOT EXISTS funding_flow_donor_idx ON funding_flow (donor_org_id);
CREATE INDEX IF NOT EXISTS funding_flow_year_idx ON funding_flow (fiscal_year);

CREATE TABLE IF NOT EXISTS funding_ingest_key (
	source_system   TEXT NOT NULL,
	event_key       TEXT NOT NULL,
	funding_flow_id BIGINT NOT NULL REFERENCES funding_flow(id) ON DELETE CASCADE,
	PRIMARY KEY (source_system, event_key)
);

CREATE TABLE IF NOT EXISTS role_event_source (
	role_event_id      BIGINT NOT NULL REFERENCES role_event(id) ON DELETE CASCADE,
	source_document_id BIGINT NOT NULL REFERENCES source_document(id) ON DELETE CASCADE,
	relation_type      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (role_event_id, source_document_id)
);

CREATE TABLE IF NOT EXISTS funding_flow_source (
	funding_flow_id    BIGINT NOT NULL REFERENCES funding_flow(id) ON DELETE CASCADE,
	source_document_id BIGINT NOT NULL REFERENCES source_document(id) ON DELETE CASCADE,
	relation_type      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (funding_flow_id, source_document_id)
);

CREATE TABLE IF NOT EXISTS organization_source (
	organization_id    BIGINT NOT NULL REFERENCES organization(id) ON DELETE CASCADE,
	source_document_id BIGINT NOT NULL REFERENCES source_document(id) ON DELETE CASCADE,
	relation_type      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (organization_id, source_document_id)
);

CREATE TABLE IF NOT EXISTS person_link_source (
	person_link_id     BIGINT NOT NULL REFERENCES person_link(id) ON DELETE CASCADE,
	source_document_id BIGINT NOT NULL REFERENCES source_document(id) ON DELETE CASCADE,
	relation_type      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (person_link_id, source_document_id)
);

CREATE TABLE IF NOT EXISTS ingest_run (
	id            TEXT PRIMARY KEY,
	source_system TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL DEFAULT 'running',
	counters      JSONB NOT NULL DEFAULT '{}',
	error         TEXT
);

CREATE TABLE IF NOT EXISTS stg_excel_person_role (
	id           BIGSERIAL PRIMARY KEY,
	row_num      INTEGER NOT NULL,
	full_name    TEXT NOT NULL,
	org_name     TEXT NOT NULL,
	role_title   TEXT NOT NULL,
	start_on     DATE,
	end_on       DATE,
	source_quote TEXT,
	source_url   TEXT,
	source_title TEXT,
	source_name  TEXT
);

CREATE TABLE IF NOT EXISTS stg_excel_funding (
	id              BIGSERIAL PRIMARY KEY,
	row_num         INTEGER NOT NULL,
	recipient_name  TEXT NOT NULL,
	fiscal_year     INTEGER,
	amount_nok      DOUBLE PRECISION,
	funding_channel TEXT,
	notes           TEXT,
	source_url      TEXT
);

CREATE TABLE IF NOT EXISTS stg_iati_transaction (
	id                       BIGSERIAL PRIMARY KEY,
	ingest_run_id            TEXT NOT NULL REFERENCES ingest_run(id),
	registry_query           TEXT,
	package_name             TEXT,
	package_title            TEXT,
	package_url              TEXT,
	publisher_iati_id        TEXT,
	resource_url             TEXT NOT NULL,
	activity_iati_identifier TEXT NOT NULL,
	activity_title           TEXT,
	reporting_org_ref        TEXT,
	reporting_org_name       TEXT,
	recipient_country_code   TEXT,
	transaction_ref          TEXT,
	transaction_type_code    TEXT,
	transaction_date         DATE,
	value_date               DATE,
	value_amount             DOUBLE PRECISION NOT NULL,
	value_currency           TEXT,
	receiver_org_ref         TEXT,
	receiver_org_name        TEXT,
	provider_org_ref         TEXT,
	provider_org_name        TEXT,
	event_key                TEXT NOT NULL,
	UNIQUE (ingest_run_id, event_key)
);
`
