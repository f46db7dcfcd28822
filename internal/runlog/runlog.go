// Package runlog tracks ingest runs in the ingest_run table so harvests and
// normalization passes are auditable and resumable.
package runlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/bstandal/NorConnect/internal/db"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Counters accumulates per-run outcome counts (staged, matched, skipped,
// and the various skip reasons).
type Counters map[string]int64

// Inc bumps a counter by one.
func (c Counters) Inc(key string) { c[key]++ }

// Add bumps a counter by n.
func (c Counters) Add(key string, n int64) { c[key] += n }

// Entry is one row of ingest_run.
type Entry struct {
	ID           string     `json:"id"`
	SourceSystem string     `json:"source_system"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       string     `json:"status"`
	Counters     Counters   `json:"counters,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Log provides read/write access to the ingest_run table.
type Log struct {
	pool db.Pool
}

// New creates a Log backed by the given connection pool.
func New(pool db.Pool) *Log {
	return &Log{pool: pool}
}

// Start records the beginning of an ingest run and returns its id.
func (l *Log) Start(ctx context.Context, sourceSystem string) (string, error) {
	id := uuid.New().String()
	_, err := l.pool.Exec(ctx,
		`INSERT INTO ingest_run (id, source_system, status, started_at)
		 VALUES ($1, $2, 'running', now())`,
		id, sourceSystem)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start run for %s", sourceSystem)
	}
	return id, nil
}

// Complete marks a run as finished and stores its counters.
func (l *Log) Complete(ctx context.Context, runID string, counters Counters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal counters")
	}
	_, err = l.pool.Exec(ctx,
		`UPDATE ingest_run
		 SET status = 'complete', finished_at = now(), counters = $1
		 WHERE id = $2`,
		countersJSON, runID)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %s", runID)
	}
	return nil
}

// Fail marks a run as failed with an error message. Counters gathered before
// the failure are kept.
func (l *Log) Fail(ctx context.Context, runID string, counters Counters, errMsg string) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal counters")
	}
	_, err = l.pool.Exec(ctx,
		`UPDATE ingest_run
		 SET status = 'failed', finished_at = now(), counters = $1, error = $2
		 WHERE id = $3`,
		countersJSON, runID, errMsg)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %s", runID)
	}
	return nil
}

// LastSuccess returns when the most recent complete run for a source system
// started, or nil if it never completed.
func (l *Log) LastSuccess(ctx context.Context, sourceSystem string) (*time.Time, error) {
	var t time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT started_at FROM ingest_run
		 WHERE source_system = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		sourceSystem,
	).Scan(&t)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s", sourceSystem)
	}
	return &t, nil
}

// List returns all runs, most recent first.
func (l *Log) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, source_system, started_at, finished_at, status, counters, error
		 FROM ingest_run ORDER BY started_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var errStr *string
		var countersJSON []byte
		if err := rows.Scan(&e.ID, &e.SourceSystem, &e.StartedAt, &e.FinishedAt, &e.Status, &countersJSON, &errStr); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if countersJSON != nil {
			_ = json.Unmarshal(countersJSON, &e.Counters)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
