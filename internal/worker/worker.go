package worker

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
	"github.com/cuongbtq/ai-recruiter/internal/pipeline"
)

// ErrWorkerStopped is returned by Enqueue once Stop has been called
var ErrWorkerStopped = errors.New("worker is stopped")

// Sink receives every event a job produces. Deliver must be safe for
// concurrent use.
type Sink interface {
	Deliver(ev domain.ProgressEvent)
}

// BlobStore is the slice of blob storage the worker needs
type BlobStore interface {
	Path(ref string) (string, error)
	Put(ctx context.Context, key string, r io.Reader) (string, error)
}

// Task is one queued evaluation
type Task struct {
	JobID      string
	Inputs     domain.InputRefs
	EnqueuedAt time.Time
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Pipeline    pipeline.Pipeline
	Blobs       BlobStore
	Concurrency int
	JobTimeout  time.Duration
	WorkerID    string
}

// Worker runs evaluations on a bounded pool of goroutines pulling from a
// FIFO queue.
type Worker struct {
	logger      *slog.Logger
	pipeline    pipeline.Pipeline
	blobs       BlobStore
	concurrency int
	jobTimeout  time.Duration
	workerID    string

	sink Sink

	mu      sync.Mutex
	queue   *list.List
	queued  map[string]*list.Element
	running map[string]struct{}
	stopped bool
	started bool

	wake     chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Stats is a point-in-time view of the worker
type Stats struct {
	Concurrency int `json:"concurrency"`
	Queued      int `json:"queued"`
	Running     int `json:"running"`
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker"
	}
	return &Worker{
		logger:      cfg.Logger,
		pipeline:    cfg.Pipeline,
		blobs:       cfg.Blobs,
		concurrency: cfg.Concurrency,
		jobTimeout:  cfg.JobTimeout,
		workerID:    workerID,
		queue:       list.New(),
		queued:      make(map[string]*list.Element),
		running:     make(map[string]struct{}),
		wake:        make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}
}

// Start spawns the worker goroutines. Events from every job go to sink.
func (w *Worker) Start(ctx context.Context, sink Sink) error {
	if w.concurrency <= 0 {
		return fmt.Errorf("invalid worker concurrency: %d", w.concurrency)
	}
	if sink == nil {
		return errors.New("worker sink is required")
	}

	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	if w.stopped {
		w.mu.Unlock()
		return ErrWorkerStopped
	}
	w.started = true
	w.sink = sink
	w.mu.Unlock()

	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	w.spawnWorkerPool(ctx)
	return nil
}

// Enqueue adds a task to the back of the queue. It never waits for a free
// worker.
func (w *Worker) Enqueue(task Task) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrWorkerStopped
	}
	if _, dup := w.queued[task.JobID]; dup {
		return fmt.Errorf("job %s is already queued", task.JobID)
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}

	w.queued[task.JobID] = w.queue.PushBack(task)
	w.signal()

	w.logger.Debug("Job enqueued",
		slog.String("job_id", task.JobID),
		slog.Int("queue_depth", w.queue.Len()),
	)
	return nil
}

// Cancel removes a job that has not started yet. It reports false when the
// job is running, already finished, or unknown.
func (w *Worker) Cancel(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	el, ok := w.queued[jobID]
	if !ok {
		return false
	}
	w.queue.Remove(el)
	delete(w.queued, jobID)
	return true
}

// IsRunning reports whether jobID is currently being evaluated
func (w *Worker) IsRunning(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.running[jobID]
	return ok
}

// Stats returns queue and running counts
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Concurrency: w.concurrency,
		Queued:      w.queue.Len(),
		Running:     len(w.running),
	}
}

// Stop refuses new tasks, hands back everything still queued and waits for
// running evaluations until ctx expires.
func (w *Worker) Stop(ctx context.Context) []Task {
	w.logger.Info("Stopping worker...")

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	pending := make([]Task, 0, w.queue.Len())
	for el := w.queue.Front(); el != nil; el = el.Next() {
		pending = append(pending, el.Value.(Task))
	}
	w.queue.Init()
	w.queued = make(map[string]*list.Element)
	close(w.stopChan)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped",
			slog.Int("dropped_from_queue", len(pending)),
		)
	case <-ctx.Done():
		w.logger.Warn("Worker stop timed out with evaluations still running",
			slog.Int("running", w.Stats().Running),
		)
	}

	return pending
}

// Wait blocks until every worker goroutine has exited
func (w *Worker) Wait() {
	w.wg.Wait()
}

// signal wakes one idle worker. Callers hold w.mu.
func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// take pops the next task and marks it running
func (w *Worker) take() (Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return Task{}, false
	}
	el := w.queue.Front()
	if el == nil {
		return Task{}, false
	}
	task := w.queue.Remove(el).(Task)
	delete(w.queued, task.JobID)
	w.running[task.JobID] = struct{}{}

	if w.queue.Len() > 0 {
		w.signal()
	}
	return task, true
}

func (w *Worker) release(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.running, jobID)
}
