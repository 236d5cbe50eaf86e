/*
Package sqlite provides the SQLite-backed reconciliation run history.

PURPOSE:
  Implements reconcile.HistoryStore. Run records are the durable audit trail
  of scheduled reconciliations and the source of the (district, target month)
  dedup check; snapshots themselves stay on the filesystem by design.

KEY TABLE:
  reconciliation_runs: One row per scheduled reconciliation

DEDUP:
  A unique index on (district_id, target_month) backs HasReconciliation; a
  cancelled run releases the pair by excluding cancelled rows from the index.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time, better crash
  recovery.

USAGE:
  history, err := sqlite.New("./data/reconciliation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer history.Close()

SEE ALSO:
  - reconcile/history.go: Interface and the in-memory test implementation
  - reconcile/scheduler.go: The consumer
*/
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/district-engine/district"
	"github.com/warp/district-engine/reconcile"
)

// History implements reconcile.HistoryStore using SQLite.
type History struct {
	db *sql.DB
}

// New creates a history store at the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return h, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		district_id TEXT NOT NULL,
		target_month TEXT NOT NULL,
		status TEXT NOT NULL,
		job_id TEXT,
		error TEXT,
		scheduled_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	-- Dedup key: at most one live run per (district, target month).
	-- Cancelled runs release the pair for re-scheduling.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_district_month
		ON reconciliation_runs(district_id, target_month)
		WHERE status != 'cancelled';

	CREATE INDEX IF NOT EXISTS idx_runs_scheduled_at
		ON reconciliation_runs(scheduled_at DESC);
	`
	_, err := h.db.Exec(schema)
	return err
}

// SaveRun inserts a new run record.
func (h *History) SaveRun(run *reconcile.Run) error {
	_, err := h.db.Exec(`
		INSERT INTO reconciliation_runs
			(id, district_id, target_month, status, job_id, error, scheduled_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.DistrictID), run.TargetMonth, run.Status,
		nullable(run.JobID), nullable(run.Error),
		run.ScheduledAt.UTC().Format(time.RFC3339),
		timePtr(run.StartedAt), timePtr(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRun rewrites a run's mutable fields.
func (h *History) UpdateRun(run *reconcile.Run) error {
	res, err := h.db.Exec(`
		UPDATE reconciliation_runs
		SET status = ?, job_id = ?, error = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		run.Status, nullable(run.JobID), nullable(run.Error),
		timePtr(run.StartedAt), timePtr(run.FinishedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// GetRun returns a run by ID, or nil when absent.
func (h *History) GetRun(id string) (*reconcile.Run, error) {
	row := h.db.QueryRow(`
		SELECT id, district_id, target_month, status, job_id, error, scheduled_at, started_at, finished_at
		FROM reconciliation_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// HasReconciliation reports whether a non-cancelled run exists for the
// (district, targetMonth) pair.
func (h *History) HasReconciliation(did district.DistrictID, targetMonth string) (bool, error) {
	var count int
	err := h.db.QueryRow(`
		SELECT COUNT(1) FROM reconciliation_runs
		WHERE district_id = ? AND target_month = ? AND status != 'cancelled'`,
		string(did), targetMonth,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check reconciliation history: %w", err)
	}
	return count > 0, nil
}

// ListRuns returns runs newest first, up to limit (0 = no limit).
func (h *History) ListRuns(limit int) ([]*reconcile.Run, error) {
	query := `
		SELECT id, district_id, target_month, status, job_id, error, scheduled_at, started_at, finished_at
		FROM reconciliation_runs ORDER BY scheduled_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*reconcile.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*reconcile.Run, error) {
	var run reconcile.Run
	var districtID string
	var jobID, errMsg, startedAt, finishedAt sql.NullString
	var scheduledAt string

	err := row.Scan(&run.ID, &districtID, &run.TargetMonth, &run.Status,
		&jobID, &errMsg, &scheduledAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.DistrictID = district.DistrictID(districtID)
	run.JobID = jobID.String
	run.Error = errMsg.String
	if t, err := time.Parse(time.RFC3339, scheduledAt); err == nil {
		run.ScheduledAt = t
	}
	run.StartedAt = parseTimePtr(startedAt)
	run.FinishedAt = parseTimePtr(finishedAt)
	return &run, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
