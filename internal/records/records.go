// Package records persists CronRunRecord entries for background jobs and
// answers "when did this job last succeed".
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HelloWorldSungin/claude-strategist/internal/storage"
)

// Status is the outcome of a job run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Run is one append-only job run record.
type Run struct {
	ID         string        `json:"id"`
	Job        string        `json:"job"`
	Status     Status        `json:"status"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Store reads and appends run records.
type Store struct {
	db  *storage.DB
	now func() time.Time
}

// New wraps an open database.
func New(db *storage.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Append inserts r. ID and FinishedAt are filled in when empty.
func (s *Store) Append(ctx context.Context, r Run) (Run, error) {
	if r.Job == "" {
		return Run{}, fmt.Errorf("append run: job is empty")
	}
	if r.Status != StatusSuccess && r.Status != StatusFailure {
		return Run{}, fmt.Errorf("append run: invalid status %q", r.Status)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = s.now()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = r.FinishedAt.Add(-r.Duration)
	}
	if r.Attempts < 1 {
		r.Attempts = 1
	}

	var errText sql.NullString
	if r.Error != "" {
		errText = sql.NullString{String: r.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
INSERT INTO job_runs(id, job, status, attempts, duration_ms, error, started_at, finished_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);`),
		r.ID, r.Job, string(r.Status), r.Attempts, r.Duration.Milliseconds(), errText,
		storage.FormatTime(r.StartedAt), storage.FormatTime(r.FinishedAt),
	)
	if err != nil {
		return Run{}, fmt.Errorf("append run: %w", err)
	}
	return r, nil
}

// LastSuccess returns the finish time of the job's most recent successful run.
func (s *Store) LastSuccess(ctx context.Context, job string) (time.Time, bool, error) {
	var finished string
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
SELECT finished_at FROM job_runs
WHERE job = ? AND status = ?
ORDER BY finished_at DESC
LIMIT 1;`), job, string(StatusSuccess)).Scan(&finished)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last success %q: %w", job, err)
	}
	t, err := storage.ParseTime(finished)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last success %q: parse finished_at: %w", job, err)
	}
	return t, true, nil
}

// Recent returns up to limit runs, newest first. job filters when non-empty.
func (s *Store) Recent(ctx context.Context, job string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
SELECT id, job, status, attempts, duration_ms, error, started_at, finished_at
FROM job_runs`
	args := []any{}
	if job != "" {
		query += ` WHERE job = ?`
		args = append(args, job)
	}
	query += ` ORDER BY finished_at DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                   Run
			status              string
			durationMS          int64
			errText             sql.NullString
			startedAt, finished string
		)
		if err := rows.Scan(&r.ID, &r.Job, &status, &r.Attempts, &durationMS, &errText, &startedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = Status(status)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if errText.Valid {
			r.Error = errText.String
		}
		if r.StartedAt, err = storage.ParseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if r.FinishedAt, err = storage.ParseTime(finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return out, nil
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
