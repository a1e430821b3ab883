package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
	"github.com/cuongbtq/ai-recruiter/internal/storage"
	"github.com/cuongbtq/ai-recruiter/internal/stream"
	"github.com/cuongbtq/ai-recruiter/internal/worker"
	"github.com/google/uuid"
)

// ErrShuttingDown is returned by Submit once Shutdown has started
var ErrShuttingDown = errors.New("service is shutting down")

const shutdownMessage = "service shutting down"

// Dispatcher runs evaluations off the request path
type Dispatcher interface {
	Start(ctx context.Context, sink worker.Sink) error
	Enqueue(task worker.Task) error
	Cancel(jobID string) bool
	Stop(ctx context.Context) []worker.Task
}

// Notifier is told about every job that reaches a terminal state
type Notifier interface {
	NotifyTerminal(ctx context.Context, job domain.Job) error
}

// Config holds orchestrator dependencies and tuning
type Config struct {
	Logger         *slog.Logger
	Store          storage.Store
	Hub            *stream.Hub
	Dispatcher     Dispatcher
	Notifier       Notifier
	PersistRetries int
	PersistBackoff time.Duration
	PersistTimeout time.Duration
}

// Orchestrator owns the job lifecycle. It is the only writer of Job state:
// workers hand it events through Deliver and a per-job fold goroutine
// applies them, persists the result and publishes it to the hub.
type Orchestrator struct {
	logger         *slog.Logger
	store          storage.Store
	hub            *stream.Hub
	dispatcher     Dispatcher
	notifier       Notifier
	persistRetries int
	persistBackoff time.Duration
	persistTimeout time.Duration
	now            func() time.Time

	// mu guards the entries map only; each entry has its own lock
	mu       sync.RWMutex
	entries  map[string]*entry
	stopping bool

	cancelRun context.CancelFunc
	folds     sync.WaitGroup
}

// New creates an orchestrator. Start must be called before Submit.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestrator store is required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("orchestrator hub is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("orchestrator dispatcher is required")
	}

	persistTimeout := cfg.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	persistBackoff := cfg.PersistBackoff
	if persistBackoff <= 0 {
		persistBackoff = 100 * time.Millisecond
	}

	return &Orchestrator{
		logger:         cfg.Logger,
		store:          cfg.Store,
		hub:            cfg.Hub,
		dispatcher:     cfg.Dispatcher,
		notifier:       cfg.Notifier,
		persistRetries: max(cfg.PersistRetries, 0),
		persistBackoff: persistBackoff,
		persistTimeout: persistTimeout,
		now:            time.Now,
		entries:        make(map[string]*entry),
	}, nil
}

// Start launches the dispatcher with the orchestrator as its event sink
func (o *Orchestrator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	if err := o.dispatcher.Start(runCtx, o); err != nil {
		cancel()
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	o.cancelRun = cancel
	return nil
}

// Submit validates the request, stores a SUBMITTED job and queues it. It
// returns as soon as the job is queued.
func (o *Orchestrator) Submit(ctx context.Context, owner string, inputs domain.InputRefs) (string, error) {
	owner = strings.TrimSpace(owner)
	inputs.CV = strings.TrimSpace(inputs.CV)
	inputs.JobDescription = strings.TrimSpace(inputs.JobDescription)

	if owner == "" {
		return "", domain.ValidationError("owner", "is required")
	}
	if inputs.CV == "" {
		return "", domain.ValidationError("cv", "reference is required")
	}
	if inputs.JobDescription == "" {
		return "", domain.ValidationError("job_description", "reference is required")
	}

	o.mu.RLock()
	stopping := o.stopping
	o.mu.RUnlock()
	if stopping {
		return "", ErrShuttingDown
	}

	now := o.now().UTC()
	job := domain.Job{
		ID:           uuid.NewString(),
		Owner:        owner,
		Inputs:       inputs,
		Status:       domain.JobStatusSubmitted,
		Progress:     0,
		StageMessage: domain.StageMessageSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	persistCtx, cancel := context.WithTimeout(ctx, o.persistTimeout)
	err := o.store.UpsertJob(persistCtx, job)
	cancel()
	if err != nil {
		o.logger.Error("Failed to store submitted job",
			slog.String("job_id", job.ID),
			slog.String("owner", owner),
			slog.Any("error", err),
		)
		if !errors.Is(err, domain.ErrStorage) {
			err = domain.StorageError("create job", err)
		}
		return "", err
	}

	// The channel exists before any event can be folded for this job.
	o.hub.Open(job.ID)
	e := o.track(job)

	err = o.dispatcher.Enqueue(worker.Task{
		JobID:      job.ID,
		Inputs:     job.Inputs,
		EnqueuedAt: now,
	})
	if err != nil {
		o.logger.Warn("Failed to enqueue job",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		o.Deliver(domain.NewFailedEvent(job.ID, domain.ErrorKindCancelled, shutdownMessage))
		<-e.done
		return "", ErrShuttingDown
	}

	o.logger.Info("Job submitted",
		slog.String("job_id", job.ID),
		slog.String("owner", owner),
	)

	return job.ID, nil
}

// Cancel fails a queued job with CANCELLED. Running jobs cannot be stopped.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	e, ok := o.lookup(jobID)
	if !ok {
		job, err := o.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", domain.ErrJobTerminal, jobID)
		}
		return fmt.Errorf("%w: %s is not owned by this process", domain.ErrJobNotCancellable, jobID)
	}

	if !o.dispatcher.Cancel(jobID) {
		if e.snapshot().Status.IsTerminal() {
			return fmt.Errorf("%w: %s", domain.ErrJobTerminal, jobID)
		}
		return fmt.Errorf("%w: %s is already running", domain.ErrJobNotCancellable, jobID)
	}

	o.logger.Info("Job cancelled before start",
		slog.String("job_id", jobID),
	)
	o.Deliver(domain.NewFailedEvent(jobID, domain.ErrorKindCancelled, "cancelled before start"))

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover fails every job a previous process left SUBMITTED or RUNNING.
// It must run before Start.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	jobs, err := o.store.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}

	recovered := 0
	for _, job := range jobs {
		if _, live := o.lookup(job.ID); live {
			continue
		}

		failed := applyEvent(job,
			domain.NewFailedEvent(job.ID, domain.ErrorKindInterrupted, "service restarted before the evaluation finished"),
			o.now().UTC(),
		)
		if err := o.persist(failed); err != nil {
			return recovered, err
		}
		recovered++

		o.logger.Warn("Marked interrupted job as failed",
			slog.String("job_id", job.ID),
			slog.String("previous_status", string(job.Status)),
		)
	}

	return recovered, nil
}

// Shutdown stops accepting work, fails everything still queued and waits
// for running evaluations and pending folds until ctx expires. Jobs left
// unfinished are picked up by Recover on the next start.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	o.stopping = true
	o.mu.Unlock()

	pending := o.dispatcher.Stop(ctx)
	if o.cancelRun != nil {
		o.cancelRun()
	}

	for _, task := range pending {
		o.Deliver(domain.NewFailedEvent(task.JobID, domain.ErrorKindCancelled, shutdownMessage))
	}

	done := make(chan struct{})
	go func() {
		o.folds.Wait()
		close(done)
	}()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.persistTimeout)
	defer cancel()

	select {
	case <-done:
		o.logger.Info("Orchestrator stopped",
			slog.Int("cancelled_from_queue", len(pending)),
		)
	case <-flushCtx.Done():
		o.logger.Warn("Orchestrator stopped with jobs still in flight",
			slog.Int("in_flight", o.Active()),
		)
	}
}

// Active returns how many jobs are tracked in memory
func (o *Orchestrator) Active() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.entries)
}
