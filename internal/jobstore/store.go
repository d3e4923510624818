// Package jobstore keeps the history of tool runs started from the GUI in a
// SQLite database.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vk/conntool/internal/jobstore/migrations"
	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the state directory.
const FileName = "jobs.db"

// ErrNotFound is returned when a job id is unknown.
var ErrNotFound = errors.New("job not found")

// InterruptedError is recorded for jobs that were still running when the
// previous process exited.
const InterruptedError = "interrupted"

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is one recorded tool run.
type Job struct {
	ID          string            `json:"id"`
	Tool        string            `json:"tool"`
	Params      map[string]string `json:"params"`
	Status      Status            `json:"status"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	OutputLines int               `json:"output_lines"`
}

// Store persists jobs in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the job database at path, applies migrations and marks jobs
// left running by an earlier process as failed.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{sqlDB: sqlDB, now: time.Now}
	if err := s.failInterrupted(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) failInterrupted(ctx context.Context) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE status = ?`,
		string(StatusFailed), InterruptedError, toMillis(s.now()), string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("mark interrupted jobs: %w", err)
	}
	return nil
}

// Create records a new running job for tool.
func (s *Store) Create(ctx context.Context, tool string, params map[string]string) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return nil, fmt.Errorf("tool is required")
	}
	if params == nil {
		params = map[string]string{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Tool:      tool,
		Params:    params,
		Status:    StatusRunning,
		StartedAt: fromMillis(toMillis(s.now())),
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO jobs (
		   id,
		   tool,
		   params,
		   status,
		   started_at
		 ) VALUES (?, ?, ?, ?, ?)`,
		job.ID,
		job.Tool,
		string(raw),
		string(job.Status),
		toMillis(job.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Finish stores the final state of job id. A nil runErr means success.
func (s *Store) Finish(ctx context.Context, id string, runErr error, outputLines int) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error = ?, finished_at = ?, output_lines = ? WHERE id = ?`,
		string(status), msg, toMillis(s.now()), outputLines, id,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectJob = `SELECT id, tool, params, status, error, started_at, finished_at, output_lines FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job        Job
		params     string
		status     string
		startedAt  int64
		finishedAt sql.NullInt64
	)
	if err := row.Scan(&job.ID, &job.Tool, &params, &status, &job.Error, &startedAt, &finishedAt, &job.OutputLines); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &job.Params); err != nil {
		return nil, fmt.Errorf("decode params of job %s: %w", job.ID, err)
	}
	job.Status = Status(status)
	job.StartedAt = fromMillis(startedAt)
	if finishedAt.Valid {
		t := fromMillis(finishedAt.Int64)
		job.FinishedAt = &t
	}
	return &job, nil
}

// Get returns one job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.sqlDB.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns up to limit jobs, newest first. A non-positive limit
// defaults to 50.
func (s *Store) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx, selectJob+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
