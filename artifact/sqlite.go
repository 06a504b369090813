package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

const runsSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	status      TEXT NOT NULL,
	filled      INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	record      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`

var ErrRunNotFound = errors.New("artifact: run not found")

type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if _, err := db.Exec(runsSchema); err != nil {
		return nil, fmt.Errorf("artifact: init schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Save(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return errors.New("artifact: record has no run id")
	}
	encoded, err := sonic.MarshalString(rec)
	if err != nil {
		return fmt.Errorf("artifact: encode %s: %w", rec.RunID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO runs (run_id, url, status, filled, started_at, finished_at, record)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.URL, string(rec.Result.Status), rec.Result.FilledCount,
		rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(), encoded)
	if err != nil {
		return fmt.Errorf("artifact: store %s: %w", rec.RunID, err)
	}
	return nil
}

func (s *SQLiteSink) Get(ctx context.Context, runID string) (Record, error) {
	var rec Record
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM runs WHERE run_id = ?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return rec, fmt.Errorf("artifact: load %s: %w", runID, err)
	}
	if err := sonic.UnmarshalString(raw, &rec); err != nil {
		return rec, fmt.Errorf("artifact: decode %s: %w", runID, err)
	}
	return rec, nil
}

// RunSummary is one row of List.
type RunSummary struct {
	RunID  string
	URL    string
	Status string
	Filled int
}

// List returns the most recent runs first.
func (s *SQLiteSink) List(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, url, status, filled FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("artifact: list runs: %w", err)
	}
	defer rows.Close()
	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.URL, &r.Status, &r.Filled); err != nil {
			return nil, fmt.Errorf("artifact: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
