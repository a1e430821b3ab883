package handler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/api/dto"
	"github.com/cuongbtq/ai-recruiter/internal/domain"
	"github.com/cuongbtq/ai-recruiter/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const sseEventName = "message"

type nextEvent struct {
	ev  domain.ProgressEvent
	err error
}

// StreamJob handles GET /api/v1/jobs/:job_id/stream
// Streams the job's progress as server-sent events until the job finishes,
// the client leaves, or a newer connection takes the stream over.
func (h *JobHandler) StreamJob(c *gin.Context) {
	jobID := c.Param("job_id")
	handle := uuid.NewString()
	ctx := c.Request.Context()

	sub, err := h.jobs.Subscribe(ctx, jobID, handle)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer h.jobs.Unsubscribe(jobID, handle)

	logger := h.logger.With(slog.String("job_id", jobID), slog.String("handle", handle))
	logger.Info("Stream opened")

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	events := make(chan nextEvent)
	go func() {
		for {
			ev, err := sub.Next(ctx)
			select {
			case events <- nextEvent{ev: ev, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var heartbeat <-chan time.Time
	if h.heartbeatInterval > 0 {
		ticker := time.NewTicker(h.heartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stream closed by client")
			return

		case <-heartbeat:
			c.SSEvent(sseEventName, dto.StreamMessage{Type: dto.StreamTypeHeartbeat, JobID: jobID})
			c.Writer.Flush()

		case next := <-events:
			if next.err != nil {
				if errors.Is(next.err, stream.ErrSuperseded) {
					c.SSEvent(sseEventName, dto.NewSupersededMessage(jobID))
					c.Writer.Flush()
				}
				logger.Info("Stream ended", slog.String("reason", next.err.Error()))
				return
			}
			c.SSEvent(sseEventName, dto.NewStreamMessage(next.ev))
			c.Writer.Flush()
		}
	}
}
