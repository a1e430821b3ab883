package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/cuongbtq/ai-recruiter/internal/api/dto"
	"github.com/cuongbtq/ai-recruiter/internal/blob"
	"github.com/cuongbtq/ai-recruiter/internal/domain"
	"github.com/cuongbtq/ai-recruiter/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Stores the uploaded CV and job description and submits an evaluation job
func (h *JobHandler) CreateJob(c *gin.Context) {
	h.logger.Info("CreateJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	}

	// 1. Validate the form
	userID := strings.TrimSpace(c.PostForm("user_id"))
	cvFile, err := c.FormFile("cv")
	if err != nil {
		h.rejectUpload(c, "cv", err)
		return
	}
	jdFile, err := c.FormFile("jd")
	if err != nil {
		h.rejectUpload(c, "jd", err)
		return
	}
	if userID == "" {
		h.writeError(c, domain.ValidationError("user_id", "is required"))
		return
	}

	// 2. Store both documents
	prefix := "uploads/" + uuid.NewString()
	cvRef, err := h.storeUpload(c, prefix, "cv", cvFile)
	if err != nil {
		h.writeError(c, err)
		return
	}
	jdRef, err := h.storeUpload(c, prefix, "jd", jdFile)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// 3. Submit the job; it runs off the request path
	jobID, err := h.jobs.Submit(c.Request.Context(), userID, domain.InputRefs{
		CV:             cvRef,
		JobDescription: jdRef,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.logger.Info("Job submitted",
		slog.String("job_id", jobID),
		slog.String("user_id", userID),
	)

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:  jobID,
		Status: string(domain.JobStatusSubmitted),
	})
}

func (h *JobHandler) rejectUpload(c *gin.Context, field string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
			Error: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
		})
		return
	}
	h.writeError(c, domain.ValidationError(field, "file is required"))
}

func (h *JobHandler) storeUpload(c *gin.Context, prefix, role string, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open %s upload: %w", role, err)
	}
	defer f.Close()

	ref, err := h.blobs.Put(c.Request.Context(), blob.UploadKey(prefix, role, fh.Filename), f)
	if err != nil {
		return "", fmt.Errorf("failed to store %s upload: %w", role, err)
	}
	return ref, nil
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	h.listJobs(c, "")
}

// ListUserJobs handles GET /api/v1/jobs/user/:user_id
func (h *JobHandler) ListUserJobs(c *gin.Context) {
	h.listJobs(c, c.Param("user_id"))
}

func (h *JobHandler) listJobs(c *gin.Context, owner string) {
	// 1. Parse query parameters
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Debug("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid query parameters"})
		return
	}
	if owner != "" {
		req.UserID = owner
	}

	// 2. Validate parameters
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	status := domain.Status(strings.ToUpper(req.Status))
	if status != "" && !status.Valid() {
		h.writeError(c, domain.ValidationError("status", fmt.Sprintf("%q is not a job status", req.Status)))
		return
	}

	// 3. Decode cursor for pagination
	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.writeError(c, domain.ValidationError("cursor", err.Error()))
		return
	}

	// 4. Query one page
	page, err := h.jobs.ListPage(c.Request.Context(), storage.JobFilter{
		UserID:   req.UserID,
		Status:   string(status),
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	jobs := make([]dto.JobDTO, len(page.Jobs))
	for i, job := range page.Jobs {
		jobs[i] = dto.NewJobDTO(job)
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobs,
		NextCursor: EncodeJobCursor(page.NextCursor),
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a job that is still waiting for an evaluation slot
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("CancelJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	if err := h.jobs.Cancel(c.Request.Context(), jobID); err != nil {
		h.writeError(c, err)
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// GetReport handles GET /api/v1/jobs/:job_id/report
// Returns the evaluation report of a completed job
func (h *JobHandler) GetReport(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if job.Status != domain.JobStatusCompleted {
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: fmt.Sprintf("job is %s; reports exist only for completed jobs", job.Status),
		})
		return
	}
	if job.Result == nil || job.Result.ReportRef == "" {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job has no report"})
		return
	}

	data, err := h.blobs.Get(c.Request.Context(), job.Result.ReportRef)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}
