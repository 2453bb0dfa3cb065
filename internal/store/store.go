// Package store persists the durable audit trail: receipts, execution
// attempts, and budget spend. Receipts and attempts are append-only.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/signalnine/frugal/internal/job"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS receipts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts INTEGER NOT NULL,
  project TEXT NOT NULL,
  job_id TEXT NOT NULL,
  status TEXT NOT NULL,
  reason TEXT NOT NULL,
  tier_path TEXT NOT NULL,
  model TEXT,
  cost_cents INTEGER NOT NULL,
  latency_ms INTEGER NOT NULL,
  agreement REAL NOT NULL,
  accepted INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  ts INTEGER NOT NULL,
  job_id TEXT NOT NULL,
  round_id TEXT NOT NULL,
  backend_id TEXT NOT NULL,
  model TEXT,
  output TEXT,
  latency_ms INTEGER NOT NULL,
  cost_cents INTEGER NOT NULL,
  schema_valid INTEGER NOT NULL,
  fail_kind TEXT,
  error TEXT
);
CREATE TABLE IF NOT EXISTS ledger_spend (
  project TEXT NOT NULL,
  period TEXT NOT NULL,
  day TEXT NOT NULL,
  spent_cents INTEGER NOT NULL,
  PRIMARY KEY (project, period, day)
);
CREATE INDEX IF NOT EXISTS idx_receipts_project ON receipts(project);
CREATE INDEX IF NOT EXISTS idx_attempts_job ON attempts(job_id);
CREATE INDEX IF NOT EXISTS idx_attempts_backend ON attempts(backend_id);
`); err != nil {
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) AppendReceipt(ctx context.Context, r job.Receipt) error {
	tierPath, err := json.Marshal(r.TierPath)
	if err != nil {
		return fmt.Errorf("encoding tier path: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO receipts (ts, project, job_id, status, reason, tier_path, model, cost_cents, latency_ms, agreement, accepted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CreatedAt.Unix(), r.Project, r.JobID, string(r.Status), string(r.Reason),
		string(tierPath), r.Model, r.CostCents, r.LatencyMS, r.Agreement, boolInt(r.Accepted),
	)
	return err
}

func (s *Store) Receipts(ctx context.Context, project string, limit int) ([]job.Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, project, job_id, status, reason, tier_path, model, cost_cents, latency_ms, agreement, accepted
		 FROM receipts WHERE project = ? ORDER BY id DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Receipt
	for rows.Next() {
		var (
			r              job.Receipt
			ts             int64
			status, reason string
			tierPath       string
			model          sql.NullString
			accepted       int
		)
		if err := rows.Scan(&ts, &r.Project, &r.JobID, &status, &reason, &tierPath, &model, &r.CostCents, &r.LatencyMS, &r.Agreement, &accepted); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(ts, 0)
		r.Status = job.Status(status)
		r.Reason = job.Reason(reason)
		r.Accepted = accepted != 0
		if model.Valid {
			r.Model = model.String
		}
		if err := json.Unmarshal([]byte(tierPath), &r.TierPath); err != nil {
			return nil, fmt.Errorf("decoding tier path: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AppendAttempt(ctx context.Context, a job.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, ts, job_id, round_id, backend_id, model, output, latency_ms, cost_cents, schema_valid, fail_kind, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CreatedAt.Unix(), a.JobID, a.RoundID, a.BackendID, a.Model, a.Output,
		a.LatencyMS, a.CostCents, boolInt(a.SchemaValid), a.FailKind, a.Err,
	)
	return err
}

func (s *Store) Attempts(ctx context.Context, jobID string) ([]job.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, job_id, round_id, backend_id, model, output, latency_ms, cost_cents, schema_valid, fail_kind, error
		 FROM attempts WHERE job_id = ? ORDER BY ts, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Attempt
	for rows.Next() {
		var (
			a           job.Attempt
			ts          int64
			schemaValid int
		)
		if err := rows.Scan(&a.ID, &ts, &a.JobID, &a.RoundID, &a.BackendID, &a.Model, &a.Output, &a.LatencyMS, &a.CostCents, &schemaValid, &a.FailKind, &a.Err); err != nil {
			return nil, err
		}
		a.CreatedAt = time.Unix(ts, 0)
		a.SchemaValid = schemaValid != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddSpend accumulates actual spend for a project and period. The day column
// scopes daily budgets; lifetime rows use an empty day.
func (s *Store) AddSpend(ctx context.Context, project, period, day string, cents int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_spend (project, period, day, spent_cents) VALUES (?, ?, ?, ?)
		 ON CONFLICT(project, period, day) DO UPDATE SET spent_cents = spent_cents + excluded.spent_cents`,
		project, period, day, cents)
	return err
}

func (s *Store) Spent(ctx context.Context, project, period, day string) (int, error) {
	var cents int
	err := s.db.QueryRowContext(ctx,
		`SELECT spent_cents FROM ledger_spend WHERE project = ? AND period = ? AND day = ?`,
		project, period, day).Scan(&cents)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cents, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
