// Package jobstore is the scheduler's local job-run ledger: a
// single-writer SQLite database recording every PENDING/RUNNING/terminal
// transition, independent of the shared Postgres tick store.
package jobstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/telemetry"
)

// Store persists JobRun rows in a local SQLite database.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create jobstore dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init jobstore schema: %w", err)
	}

	var rowCount int64
	db.QueryRow(`SELECT COUNT(*) FROM job_runs`).Scan(&rowCount)
	telemetry.Plainf("jobstore: opened %s  runs=%d", path, rowCount)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `CREATE TABLE IF NOT EXISTS job_runs (
	id          TEXT PRIMARY KEY,
	job_name    TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	status      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	started_at  TEXT,
	ended_at    TEXT,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_job_runs_job_name ON job_runs(job_name, created_at);
`

// CreateRun inserts a new PENDING run and returns it.
func (s *Store) CreateRun(jobName string, attempt int) (model.JobRun, error) {
	run := model.JobRun{
		ID:        uuid.NewString(),
		JobName:   jobName,
		Attempt:   attempt,
		Status:    model.RunPending,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO job_runs (id, job_name, attempt, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.JobName, run.Attempt, run.Status, run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return model.JobRun{}, fmt.Errorf("insert job run: %w", err)
	}
	return run, nil
}

// MarkRunning transitions a run to RUNNING and stamps started_at.
func (s *Store) MarkRunning(runID string) error {
	_, err := s.db.Exec(
		`UPDATE job_runs SET status = ?, started_at = ? WHERE id = ?`,
		model.RunRunning, time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	return err
}

// Finish transitions a run to a terminal status and stamps ended_at.
func (s *Store) Finish(runID string, status model.RunStatus, runErr error) error {
	if !status.Terminal() {
		return fmt.Errorf("finish called with non-terminal status %q", status)
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := s.db.Exec(
		`UPDATE job_runs SET status = ?, ended_at = ?, error = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), msg, runID,
	)
	return err
}

// RecentRuns returns the most recent runs for a job, newest first.
func (s *Store) RecentRuns(jobName string, limit int) ([]model.JobRun, error) {
	rows, err := s.db.Query(
		`SELECT id, job_name, attempt, status, created_at, started_at, ended_at, error
		 FROM job_runs WHERE job_name = ? ORDER BY created_at DESC LIMIT ?`,
		jobName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var out []model.JobRun
	for rows.Next() {
		var run model.JobRun
		var createdAt string
		var startedAt, endedAt, errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.JobName, &run.Attempt, &run.Status, &createdAt, &startedAt, &endedAt, &errMsg); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if startedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
			run.StartedAt = &t
		}
		if endedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
			run.EndedAt = &t
		}
		run.Error = errMsg.String
		out = append(out, run)
	}
	return out, rows.Err()
}

// ConsecutiveFailures counts how many of the most recent runs for a job,
// walking back from the newest, ended FAILED or TIMED_OUT before hitting
// a SUCCEEDED run.
func (s *Store) ConsecutiveFailures(jobName string) (int, error) {
	runs, err := s.RecentRuns(jobName, 50)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range runs {
		if r.Status == model.RunFailed || r.Status == model.RunTimedOut {
			count++
			continue
		}
		if r.Status == model.RunSucceeded {
			break
		}
	}
	return count, nil
}
