package storage

import (
	"database/sql"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
)

// jobRow mirrors the job_processing table
type jobRow struct {
	JobID        string         `db:"job_id"`
	UserID       string         `db:"user_id"`
	CVRef        string         `db:"cv_ref"`
	JDRef        string         `db:"jd_ref"`
	Status       string         `db:"status"`
	Progress     int            `db:"progress"`
	StageMessage string         `db:"stage_message"`
	Decision     sql.NullString `db:"decision"`
	ReportRef    sql.NullString `db:"report_ref"`
	ErrorKind    sql.NullString `db:"error_kind"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// normalizeTime drops precision that not every driver round-trips
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func toRow(job domain.Job) jobRow {
	row := jobRow{
		JobID:        job.ID,
		UserID:       job.Owner,
		CVRef:        job.Inputs.CV,
		JDRef:        job.Inputs.JobDescription,
		Status:       string(job.Status),
		Progress:     job.Progress,
		StageMessage: job.StageMessage,
		CreatedAt:    normalizeTime(job.CreatedAt),
		UpdatedAt:    normalizeTime(job.UpdatedAt),
	}
	if job.Result != nil {
		row.Decision = sql.NullString{String: job.Result.Decision, Valid: true}
		row.ReportRef = sql.NullString{String: job.Result.ReportRef, Valid: true}
	}
	if job.Error != nil {
		row.ErrorKind = sql.NullString{String: string(job.Error.Kind), Valid: true}
		row.ErrorMessage = sql.NullString{String: job.Error.Message, Valid: true}
	}
	return row
}

func (r jobRow) toDomain() domain.Job {
	job := domain.Job{
		ID:    r.JobID,
		Owner: r.UserID,
		Inputs: domain.InputRefs{
			CV:             r.CVRef,
			JobDescription: r.JDRef,
		},
		Status:       domain.Status(r.Status),
		Progress:     r.Progress,
		StageMessage: r.StageMessage,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.Decision.Valid {
		job.Result = &domain.Result{Decision: r.Decision.String, ReportRef: r.ReportRef.String}
	}
	if r.ErrorKind.Valid {
		job.Error = &domain.JobError{Kind: domain.ErrorKind(r.ErrorKind.String), Message: r.ErrorMessage.String}
	}
	return job
}
