package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
)

// MemoryStore keeps jobs in a map. It is used with database.driver "memory"
// and loses everything on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]domain.Job)}
}

// UpsertJob stores a copy of job
func (m *MemoryStore) UpsertJob(ctx context.Context, job domain.Job) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageError("upsert job", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := job.Clone()
	stored.CreatedAt = normalizeTime(stored.CreatedAt)
	stored.UpdatedAt = normalizeTime(stored.UpdatedAt)
	if existing, ok := m.jobs[job.ID]; ok {
		stored.Owner = existing.Owner
		stored.CreatedAt = existing.CreatedAt
	}
	m.jobs[job.ID] = stored
	return nil
}

// GetJob returns a copy of the stored job
func (m *MemoryStore) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	return job.Clone(), nil
}

// ListJobs mirrors Storage.ListJobs
func (m *MemoryStore) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Job
	for _, job := range m.jobs {
		if filter.UserID != "" && job.Owner != filter.UserID {
			continue
		}
		if filter.Status != "" && string(job.Status) != filter.Status {
			continue
		}
		if filter.Cursor != nil && !before(job, *filter.Cursor) {
			continue
		}
		out = append(out, job.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i], out[j])
	})

	if filter.PageSize > 0 && len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

// ListUnfinished returns every job still SUBMITTED or RUNNING, oldest first
func (m *MemoryStore) ListUnfinished(ctx context.Context) ([]domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Job
	for _, job := range m.jobs {
		if !job.Status.IsTerminal() {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[j], out[i])
	})
	return out, nil
}

// before reports whether job sorts after the cursor in newest-first order
func before(job domain.Job, cursor JobCursor) bool {
	at := normalizeTime(cursor.CreatedAt)
	if job.CreatedAt.Equal(at) {
		return job.ID < cursor.JobID
	}
	return job.CreatedAt.Before(at)
}

func newerFirst(a, b domain.Job) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}
