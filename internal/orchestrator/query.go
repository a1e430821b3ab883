package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
	"github.com/cuongbtq/ai-recruiter/internal/storage"
	"github.com/cuongbtq/ai-recruiter/internal/stream"
)

const listBatchSize = 50

// Page is one keyset page of jobs, newest first
type Page struct {
	Jobs       []domain.Job
	NextCursor *storage.JobCursor
}

// GetJob returns the live in-memory state when the job is in flight and the
// stored record otherwise.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return domain.Job{}, fmt.Errorf("%w: empty job id", domain.ErrJobNotFound)
	}
	if e, ok := o.lookup(jobID); ok {
		return e.snapshot(), nil
	}
	return o.store.GetJob(ctx, jobID)
}

// ListPage returns one page matching filter. In-flight jobs are reported
// with their live state.
func (o *Orchestrator) ListPage(ctx context.Context, filter storage.JobFilter) (Page, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = listBatchSize
	}

	jobs, err := o.store.ListJobs(ctx, filter)
	if err != nil {
		return Page{}, err
	}

	var page Page
	if len(jobs) > filter.PageSize {
		jobs = jobs[:filter.PageSize]
		last := jobs[len(jobs)-1]
		page.NextCursor = &storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
	}

	for i, job := range jobs {
		if e, ok := o.lookup(job.ID); ok {
			live := e.snapshot()
			live.CreatedAt = job.CreatedAt
			jobs[i] = live
		}
	}
	page.Jobs = jobs
	return page, nil
}

// ListJobs walks every job of owner (all owners when empty), newest first.
// The sequence fetches pages lazily and starts over each time it is ranged.
func (o *Orchestrator) ListJobs(ctx context.Context, owner string) iter.Seq2[domain.Job, error] {
	return func(yield func(domain.Job, error) bool) {
		filter := storage.JobFilter{UserID: owner, PageSize: listBatchSize}
		for {
			page, err := o.ListPage(ctx, filter)
			if err != nil {
				yield(domain.Job{}, err)
				return
			}
			for _, job := range page.Jobs {
				if !yield(job, nil) {
					return
				}
			}
			if page.NextCursor == nil {
				return
			}
			filter.Cursor = page.NextCursor
		}
	}
}

// Subscribe attaches handle as the job's single live observer. Any previous
// observer is superseded.
func (o *Orchestrator) Subscribe(ctx context.Context, jobID, handle string) (*stream.Subscription, error) {
	job, err := o.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return o.hub.Subscribe(job.ID, handle, job), nil
}

// Unsubscribe detaches handle. Calling it for a handle that is no longer
// current is a no-op.
func (o *Orchestrator) Unsubscribe(jobID, handle string) {
	o.hub.Unsubscribe(jobID, handle)
}
