package dto

import (
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
)

// Stream message types that are not job event kinds
const (
	StreamTypeSuperseded = "SUPERSEDED"
	StreamTypeHeartbeat  = "HEARTBEAT"
)

type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ListJobsRequest struct {
	UserID   string `form:"user_id"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID        string `json:"job_id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	StageMessage string `json:"stage_message"`
	CVRef        string `json:"cv_ref"`
	JDRef        string `json:"jd_ref"`
	Decision     string `json:"decision,omitempty"`
	ReportRef    string `json:"report_ref,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// StreamMessage is the wire shape of one event on a job's progress stream
type StreamMessage struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	Message   string `json:"message"`
	Progress  int    `json:"progress"`
	Decision  string `json:"decision,omitempty"`
	ReportRef string `json:"report_ref,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// NewJobDTO converts a job to its response shape
func NewJobDTO(job domain.Job) JobDTO {
	out := JobDTO{
		JobID:        job.ID,
		UserID:       job.Owner,
		Status:       string(job.Status),
		Progress:     job.Progress,
		StageMessage: job.StageMessage,
		CVRef:        job.Inputs.CV,
		JDRef:        job.Inputs.JobDescription,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if job.Result != nil {
		out.Decision = job.Result.Decision
		out.ReportRef = job.Result.ReportRef
	}
	if job.Error != nil {
		out.ErrorKind = string(job.Error.Kind)
		out.ErrorMessage = job.Error.Message
	}
	return out
}

// NewStreamMessage converts a progress event to its wire shape
func NewStreamMessage(ev domain.ProgressEvent) StreamMessage {
	msg := StreamMessage{
		Type:     string(ev.Kind),
		JobID:    ev.JobID,
		Message:  ev.Message,
		Progress: ev.Percentage,
	}
	if ev.Result != nil {
		msg.Decision = ev.Result.Decision
		msg.ReportRef = ev.Result.ReportRef
	}
	if ev.Error != nil {
		msg.ErrorKind = string(ev.Error.Kind)
	}
	return msg
}

// NewSupersededMessage is the last message sent to an evicted subscriber
func NewSupersededMessage(jobID string) StreamMessage {
	return StreamMessage{
		Type:    StreamTypeSuperseded,
		JobID:   jobID,
		Message: "Another connection took over this job's progress stream",
	}
}
