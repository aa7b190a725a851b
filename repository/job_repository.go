package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/pilievwm/ccimageupload/models"
)

// ErrJobNotFound is returned when no job exists for an id.
var ErrJobNotFound = errors.New("job not found")

// JobRepository is the job registry. Returned jobs are copies; changes go
// through Update.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	// Update applies mutate to the stored job atomically. If mutate returns
	// an error nothing is written and that error is returned.
	Update(ctx context.Context, id string, mutate func(job *models.Job) error) (*models.Job, error)
	// List returns up to limit jobs, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*models.Job, error)
	Delete(ctx context.Context, id string) error
}

// MemoryJobRepository keeps jobs in process memory.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewMemoryJobRepository creates an empty in-memory registry.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*models.Job)}
}

func (r *MemoryJobRepository) Create(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryJobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryJobRepository) Update(ctx context.Context, id string, mutate func(job *models.Job) error) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	next := job.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	r.jobs[id] = next
	return next.Clone(), nil
}

func (r *MemoryJobRepository) List(ctx context.Context, limit int) ([]*models.Job, error) {
	r.mu.RLock()
	out := make([]*models.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryJobRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}
