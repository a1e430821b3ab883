package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/api/dto"
	"github.com/cuongbtq/ai-recruiter/internal/blob"
	"github.com/cuongbtq/ai-recruiter/internal/domain"
	"github.com/cuongbtq/ai-recruiter/internal/orchestrator"
	"github.com/cuongbtq/ai-recruiter/internal/storage"
	"github.com/cuongbtq/ai-recruiter/internal/stream"
	"github.com/cuongbtq/ai-recruiter/internal/worker"
	"github.com/gin-gonic/gin"
)

// JobService is the job lifecycle API the handlers drive
type JobService interface {
	Submit(ctx context.Context, owner string, inputs domain.InputRefs) (string, error)
	GetJob(ctx context.Context, jobID string) (domain.Job, error)
	ListPage(ctx context.Context, filter storage.JobFilter) (orchestrator.Page, error)
	Cancel(ctx context.Context, jobID string) error
	Subscribe(ctx context.Context, jobID, handle string) (*stream.Subscription, error)
	Unsubscribe(jobID, handle string)
}

// BlobStore holds uploaded documents and generated reports
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// PoolStats reports worker pool occupancy
type PoolStats interface {
	Stats() worker.Stats
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger            *slog.Logger
	Jobs              JobService
	Blobs             BlobStore
	Database          HealthChecker
	Pool              PoolStats
	ServiceName       string
	MaxUploadSize     int64
	HeartbeatInterval time.Duration
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger            *slog.Logger
	jobs              JobService
	blobs             BlobStore
	maxUploadSize     int64
	heartbeatInterval time.Duration
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:            deps.Logger,
		jobs:              deps.Jobs,
		blobs:             deps.Blobs,
		maxUploadSize:     deps.MaxUploadSize,
		heartbeatInterval: deps.HeartbeatInterval,
	}
}

// writeError maps a service error to its HTTP status
func (h *JobHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, blob.ErrBlobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrJobNotCancellable), errors.Is(err, domain.ErrJobTerminal):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStorage), errors.Is(err, orchestrator.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(status, dto.ErrorResponse{Error: err.Error()})
}

// HealthHandler serves GET /health
func HealthHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":  "healthy",
			"service": deps.ServiceName,
		}
		if deps.Pool != nil {
			body["worker"] = deps.Pool.Stats()
		}

		if deps.Database != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Database.HealthCheck(ctx); err != nil {
				body["status"] = "unhealthy"
				body["database"] = err.Error()
				c.JSON(http.StatusServiceUnavailable, body)
				return
			}
			body["database"] = "ok"
		}

		c.JSON(http.StatusOK, body)
	}
}
