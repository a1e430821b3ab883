package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
	"github.com/cuongbtq/ai-recruiter/internal/pipeline"
)

// ReportName is the blob name the evaluation report is stored under
const ReportName = "evaluation_report.json"

// ReportKey returns the blob key of a job's evaluation report
func ReportKey(jobID string) string {
	return path.Join(jobID, ReportName)
}

// reporter forwards events for one job and guarantees a single terminal
// event. Progress after the terminal event is dropped.
type reporter struct {
	jobID    string
	sink     Sink
	logger   *slog.Logger
	finished atomic.Bool
}

func (r *reporter) progress(percentage int, message string) {
	if r.finished.Load() {
		r.logger.Debug("Dropping progress after terminal event",
			slog.String("job_id", r.jobID),
			slog.Int("progress", percentage),
		)
		return
	}
	r.sink.Deliver(domain.NewProgressEvent(r.jobID, percentage, message))
}

func (r *reporter) finish(ev domain.ProgressEvent) {
	if !r.finished.CompareAndSwap(false, true) {
		return
	}
	r.sink.Deliver(ev)
}

// processJob runs one evaluation and emits exactly one terminal event
func (w *Worker) processJob(ctx context.Context, workerName string, task Task) {
	start := time.Now()
	rep := &reporter{jobID: task.JobID, sink: w.sink, logger: w.logger}

	rep.progress(0, domain.StageMessageStarted)

	result, jobErr := w.executeJob(ctx, task, rep)
	if jobErr != nil {
		w.logger.Error("Job execution failed",
			slog.String("worker_name", workerName),
			slog.String("job_id", task.JobID),
			slog.String("kind", string(jobErr.Kind)),
			slog.String("error", jobErr.Message),
			slog.Duration("duration", time.Since(start)),
		)
		rep.finish(domain.NewFailedEvent(task.JobID, jobErr.Kind, jobErr.Message))
		return
	}

	w.logger.Info("Job completed successfully",
		slog.String("worker_name", workerName),
		slog.String("job_id", task.JobID),
		slog.String("decision", result.Decision),
		slog.Duration("duration", time.Since(start)),
	)
	rep.finish(domain.NewCompletedEvent(task.JobID, *result))
}

// executeJob resolves inputs, invokes the pipeline and stores the report.
// A panic inside the pipeline becomes a pipeline failure.
func (w *Worker) executeJob(ctx context.Context, task Task, rep *reporter) (result *domain.Result, jobErr *domain.JobError) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Pipeline panicked",
				slog.String("job_id", task.JobID),
				slog.Any("panic", r),
			)
			result = nil
			jobErr = &domain.JobError{
				Kind:    domain.ErrorKindPipeline,
				Message: fmt.Sprintf("pipeline panicked: %v", r),
			}
		}
	}()

	cv, err := w.document(task.Inputs.CV)
	if err != nil {
		return nil, &domain.JobError{Kind: domain.ErrorKindPipeline, Message: fmt.Sprintf("cv: %v", err)}
	}
	jobDesc, err := w.document(task.Inputs.JobDescription)
	if err != nil {
		return nil, &domain.JobError{Kind: domain.ErrorKindPipeline, Message: fmt.Sprintf("job description: %v", err)}
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	outcome, err := w.pipeline.Evaluate(jobCtx, cv, jobDesc, rep.progress)
	if err != nil {
		return nil, w.classify(ctx, jobCtx, err)
	}
	if outcome == nil {
		return nil, &domain.JobError{Kind: domain.ErrorKindPipeline, Message: "pipeline returned no outcome"}
	}

	reportRef := ""
	if len(outcome.Report) > 0 {
		reportRef, err = w.blobs.Put(ctx, ReportKey(task.JobID), bytes.NewReader(outcome.Report))
		if err != nil {
			return nil, &domain.JobError{
				Kind:    domain.ErrorKindPersistence,
				Message: fmt.Sprintf("failed to store evaluation report: %v", err),
			}
		}
	}

	return &domain.Result{Decision: outcome.Decision, ReportRef: reportRef}, nil
}

func (w *Worker) document(ref string) (pipeline.Document, error) {
	p, err := w.blobs.Path(ref)
	if err != nil {
		return pipeline.Document{}, err
	}
	return pipeline.Document{Ref: ref, Path: p, Format: pipeline.DetectFormat(ref)}, nil
}

// classify maps a pipeline error to the failure kind recorded on the job
func (w *Worker) classify(ctx, jobCtx context.Context, err error) *domain.JobError {
	switch {
	case ctx.Err() != nil:
		return &domain.JobError{Kind: domain.ErrorKindInterrupted, Message: "service shutting down"}
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return &domain.JobError{
			Kind:    domain.ErrorKindTimeout,
			Message: fmt.Sprintf("evaluation exceeded %s", w.jobTimeout),
		}
	}

	var pipeErr *domain.PipelineError
	if errors.As(err, &pipeErr) {
		return &domain.JobError{Kind: domain.ErrorKindPipeline, Message: pipeErr.Message}
	}
	return &domain.JobError{Kind: domain.ErrorKindPipeline, Message: err.Error()}
}
