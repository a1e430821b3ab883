package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
	"github.com/jmoiron/sqlx"
)

// Store persists jobs. Implementations must be safe for concurrent use.
type Store interface {
	UpsertJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, jobID string) (domain.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error)
	ListUnfinished(ctx context.Context) ([]domain.Job, error)
}

// JobFilter selects one keyset page of jobs, newest first. Stores return up
// to PageSize+1 rows so callers can tell whether another page exists.
type JobFilter struct {
	UserID   string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the position after the last job of a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// Storage is the SQL-backed Store
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS job_processing (
		job_id        VARCHAR(64) PRIMARY KEY,
		user_id       VARCHAR(255) NOT NULL,
		cv_ref        TEXT NOT NULL,
		jd_ref        TEXT NOT NULL,
		status        VARCHAR(32) NOT NULL,
		progress      INTEGER NOT NULL DEFAULT 0,
		stage_message TEXT NOT NULL DEFAULT '',
		decision      VARCHAR(64),
		report_ref    TEXT,
		error_kind    VARCHAR(64),
		error_message TEXT,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_processing_user_created
		ON job_processing (user_id, created_at DESC, job_id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_job_processing_status
		ON job_processing (status)`,
}

// EnsureSchema creates the job table and its indexes when missing
func (s *Storage) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.logger.Info("Job schema ready")
	return nil
}

const jobColumns = `
	job_id, user_id, cv_ref, jd_ref, status, progress, stage_message,
	decision, report_ref, error_kind, error_message, created_at, updated_at`

// UpsertJob inserts the job or overwrites every mutable column of an
// existing row. created_at and user_id never change after insert.
func (s *Storage) UpsertJob(ctx context.Context, job domain.Job) error {
	query := s.db.Rebind(`
		INSERT INTO job_processing (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			status        = excluded.status,
			progress      = excluded.progress,
			stage_message = excluded.stage_message,
			decision      = excluded.decision,
			report_ref    = excluded.report_ref,
			error_kind    = excluded.error_kind,
			error_message = excluded.error_message,
			updated_at    = excluded.updated_at
	`)

	row := toRow(job)
	_, err := s.db.ExecContext(
		ctx,
		query,
		row.JobID,
		row.UserID,
		row.CVRef,
		row.JDRef,
		row.Status,
		row.Progress,
		row.StageMessage,
		row.Decision,
		row.ReportRef,
		row.ErrorKind,
		row.ErrorMessage,
		row.CreatedAt,
		row.UpdatedAt,
	)
	if err != nil {
		return domain.StorageError("upsert job", err)
	}

	return nil
}

// GetJob loads one job by id
func (s *Storage) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	var row jobRow
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM job_processing WHERE job_id = ?`)

	err := s.db.GetContext(ctx, &row, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
		}
		return domain.Job{}, domain.StorageError("get job", err)
	}

	return row.toDomain(), nil
}

// ListJobs returns one page ordered by created_at DESC, job_id DESC
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	var (
		conds []string
		args  []interface{}
	)

	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		cursorAt := normalizeTime(filter.Cursor.CreatedAt)
		conds = append(conds, "(created_at < ? OR (created_at = ? AND job_id < ?))")
		args = append(args, cursorAt, cursorAt, filter.Cursor.JobID)
	}

	query := `SELECT ` + jobColumns + ` FROM job_processing`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	if filter.PageSize > 0 {
		query += " LIMIT ?"
		args = append(args, filter.PageSize+1)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, domain.StorageError("list jobs", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}
	return jobs, nil
}

// ListUnfinished returns every job still SUBMITTED or RUNNING
func (s *Storage) ListUnfinished(ctx context.Context) ([]domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM job_processing
		WHERE status IN (?, ?) ORDER BY created_at ASC, job_id ASC`)

	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, query, string(domain.JobStatusSubmitted), string(domain.JobStatusRunning))
	if err != nil {
		return nil, domain.StorageError("list unfinished jobs", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}
	return jobs, nil
}
