// Package store provides SQLite-backed persistence for the job registry.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/regent/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested job does not exist.
var ErrNotFound = fmt.Errorf("job not found")

// Store provides access to the Regent SQLite database. Only jobs persist;
// per-job subtask state is ephemeral and lives in the queue while a job runs.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Set connection pool settings for concurrent access
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		result TEXT,
		error TEXT,
		iterations INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Job Operations ---

// CreateJob inserts a new job in pending state.
func (s *Store) CreateJob(query string) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New().String(),
		Query:     query,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, query, status, iterations, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Query, job.Status, job.Iterations, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob retrieves a job by ID. Returns (nil, nil) when the job is absent.
func (s *Store) GetJob(id string) (*models.Job, error) {
	job := &models.Job{}
	var result sql.NullString
	var errMsg sql.NullString

	err := s.db.QueryRow(
		`SELECT id, query, status, result, error, iterations, created_at, updated_at FROM jobs WHERE id = ?`,
		id,
	).Scan(&job.ID, &job.Query, &job.Status, &result, &errMsg, &job.Iterations, &job.CreatedAt, &job.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	if result.Valid {
		job.Result = result.String
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return job, nil
}

// ListJobs returns jobs most-recent-first, optionally filtered by status,
// paginated by limit and offset.
func (s *Store) ListJobs(status string, limit, offset int) ([]models.Job, error) {
	query := `SELECT id, query, status, result, error, iterations, created_at, updated_at FROM jobs`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		var result sql.NullString
		var errMsg sql.NullString
		if err := rows.Scan(&job.ID, &job.Query, &job.Status, &result, &errMsg, &job.Iterations, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if result.Valid {
			job.Result = result.String
		}
		if errMsg.Valid {
			job.Error = errMsg.String
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkJobRunning transitions a job to running.
func (s *Store) MarkJobRunning(id string) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		models.JobStatusRunning, time.Now().UTC(), id,
	)
	return err
}

// SetJobIterations records the reflection round a running job has reached.
func (s *Store) SetJobIterations(id string, iterations int) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET iterations = ?, updated_at = ? WHERE id = ?`,
		iterations, time.Now().UTC(), id,
	)
	return err
}

// TouchJob bumps a job's updated_at timestamp.
func (s *Store) TouchJob(id string) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	return err
}

// CompleteJob marks a job completed with its final aggregate result.
func (s *Store) CompleteJob(id, result string, iterations int) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, result = ?, error = NULL, iterations = ?, updated_at = ? WHERE id = ?`,
		models.JobStatusCompleted, result, iterations, time.Now().UTC(), id,
	)
	return err
}

// FailJob marks a job failed with a human-readable error message.
func (s *Store) FailJob(id, errMsg string, iterations int) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, error = ?, result = NULL, iterations = ?, updated_at = ? WHERE id = ?`,
		models.JobStatusFailed, errMsg, iterations, time.Now().UTC(), id,
	)
	return err
}

// DeleteJob removes a job record. Returns ErrNotFound if no row matched.
func (s *Store) DeleteJob(id string) error {
	result, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActive returns the number of jobs in pending or running state.
func (s *Store) CountActive() (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM jobs WHERE status IN (?, ?)`,
		models.JobStatusPending, models.JobStatusRunning,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return n, nil
}
