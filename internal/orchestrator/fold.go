package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
)

const inboxSize = 64

// entry is the in-memory projection of one live job
type entry struct {
	// mu guards job; it is never held across storage or hub calls
	mu  sync.Mutex
	job domain.Job

	inbox chan domain.ProgressEvent
	done  chan struct{}
}

func (e *entry) snapshot() domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone()
}

func (e *entry) set(job domain.Job) {
	e.mu.Lock()
	e.job = job.Clone()
	e.mu.Unlock()
}

// track registers a freshly stored job and starts its fold goroutine
func (o *Orchestrator) track(job domain.Job) *entry {
	e := &entry{
		job:   job.Clone(),
		inbox: make(chan domain.ProgressEvent, inboxSize),
		done:  make(chan struct{}),
	}

	o.mu.Lock()
	o.entries[job.ID] = e
	o.mu.Unlock()

	o.folds.Add(1)
	go o.runFold(e)
	return e
}

func (o *Orchestrator) lookup(jobID string) (*entry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.entries[jobID]
	return e, ok
}

// Deliver hands an event to the job's fold goroutine. Events for jobs that
// are unknown or already terminal are dropped.
func (o *Orchestrator) Deliver(ev domain.ProgressEvent) {
	e, ok := o.lookup(ev.JobID)
	if !ok {
		o.logger.Debug("Dropping event for untracked job",
			slog.String("job_id", ev.JobID),
			slog.String("kind", string(ev.Kind)),
		)
		return
	}

	select {
	case e.inbox <- ev:
	case <-e.done:
	}
}

// runFold applies the job's events one at a time until it is terminal
func (o *Orchestrator) runFold(e *entry) {
	defer o.folds.Done()
	defer close(e.done)

	for ev := range e.inbox {
		if o.foldOne(e, ev) {
			return
		}
	}
}

// foldOne applies ev, persists the new state and publishes it. It reports
// whether the job is now terminal.
func (o *Orchestrator) foldOne(e *entry, ev domain.ProgressEvent) bool {
	if ev.Kind == domain.EventConnected {
		return false
	}

	e.mu.Lock()
	current := e.job
	if current.Status.IsTerminal() {
		e.mu.Unlock()
		return true
	}
	next := applyEvent(current, ev, o.now().UTC())
	e.job = next.Clone()
	e.mu.Unlock()

	persistErr := o.persist(next)
	if persistErr != nil && !isPersistenceFailure(next) {
		next = applyEvent(next,
			domain.NewFailedEvent(next.ID, domain.ErrorKindPersistence,
				fmt.Sprintf("failed to persist job state: %v", persistErr)),
			o.now().UTC(),
		)
		e.set(next)
		persistErr = o.persist(next)
	}

	published := o.hub.Publish(next.StateEvent())

	o.logger.Debug("Job event folded",
		slog.String("job_id", next.ID),
		slog.String("status", string(next.Status)),
		slog.Int("progress", next.Progress),
		slog.Uint64("seq", published.Seq),
	)

	if !next.Status.IsTerminal() {
		return false
	}

	o.logger.Info("Job finished",
		slog.String("job_id", next.ID),
		slog.String("status", string(next.Status)),
		slog.Duration("elapsed", next.UpdatedAt.Sub(next.CreatedAt)),
	)

	if o.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), o.persistTimeout)
		if err := o.notifier.NotifyTerminal(ctx, next); err != nil {
			o.logger.Warn("Failed to notify job completion",
				slog.String("job_id", next.ID),
				slog.Any("error", err),
			)
		}
		cancel()
	}

	// An unpersisted terminal state stays in memory so GetJob keeps
	// reporting it.
	if persistErr == nil {
		o.mu.Lock()
		delete(o.entries, next.ID)
		o.mu.Unlock()
	}

	return true
}

func isPersistenceFailure(job domain.Job) bool {
	return job.Error != nil && job.Error.Kind == domain.ErrorKindPersistence
}

// persist upserts job, retrying with exponential backoff
func (o *Orchestrator) persist(job domain.Job) error {
	var lastErr error
	delay := o.persistBackoff

	for attempt := 0; attempt <= o.persistRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), o.persistTimeout)
		err := o.store.UpsertJob(ctx, job)
		cancel()

		if err == nil {
			if attempt > 0 {
				o.logger.Info("Persisted job state after retry",
					slog.String("job_id", job.ID),
					slog.Int("attempt", attempt+1),
				)
			}
			return nil
		}
		lastErr = err

		if attempt < o.persistRetries {
			o.logger.Warn("Failed to persist job state, retrying...",
				slog.String("job_id", job.ID),
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", o.persistRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	o.logger.Error("Failed to persist job state after all retries",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
		slog.Int("attempts", o.persistRetries+1),
		slog.Any("error", lastErr),
	)
	return lastErr
}

// applyEvent folds one event into a job and returns the new state. Progress
// never decreases and stays below 100 until the job completes.
func applyEvent(job domain.Job, ev domain.ProgressEvent, now time.Time) domain.Job {
	next := job.Clone()
	if next.Status.IsTerminal() {
		return next
	}

	switch ev.Kind {
	case domain.EventProgress:
		if next.Status == domain.JobStatusSubmitted {
			next.Status = domain.JobStatusRunning
		}
		next.Progress = clampProgress(next.Progress, ev.Percentage)
		if ev.Message != "" {
			next.StageMessage = ev.Message
		}

	case domain.EventCompleted:
		next.Status = domain.JobStatusCompleted
		next.Progress = 100
		next.StageMessage = domain.StageMessageComplete
		next.Result = &domain.Result{}
		if ev.Result != nil {
			*next.Result = *ev.Result
		}
		next.Error = nil

	case domain.EventFailed:
		jobErr := domain.JobError{Kind: domain.ErrorKindPipeline, Message: "evaluation failed"}
		if ev.Error != nil {
			jobErr = *ev.Error
			if jobErr.Message == "" {
				jobErr.Message = "evaluation failed"
			}
		}
		next.Status = domain.JobStatusFailed
		next.Error = &jobErr
		next.StageMessage = "Error: " + jobErr.Message
		next.Result = nil
		next.Progress = min(next.Progress, domain.MaxRunningProgress)

	default:
		return next
	}

	next.UpdatedAt = now
	return next
}

func clampProgress(current, reported int) int {
	if reported < current {
		return current
	}
	if reported > domain.MaxRunningProgress {
		return domain.MaxRunningProgress
	}
	return reported
}
