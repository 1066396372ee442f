package repository

import (
	"sync"
	"time"

	"github.com/legalcrawl/engine/internal/job"
	"github.com/legalcrawl/engine/internal/model"
)

// InMemoryJobRepository is a process-local JobRepository enforcing the job
// state machine's DAG on every transition (§4.9).
type InMemoryJobRepository struct {
	mu      sync.Mutex
	jobs    map[string]model.Job
	cancels map[string]bool
}

func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobs:    make(map[string]model.Job),
		cancels: make(map[string]bool),
	}
}

func (r *InMemoryJobRepository) Create(j model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[j.ID]; exists {
		return ErrConflict
	}
	r.jobs[j.ID] = j
	return nil
}

func (r *InMemoryJobRepository) Get(id string) (model.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok, nil
}

func (r *InMemoryJobRepository) TransitionJob(jobID string, expectedFrom, to model.JobStatus, fields JobTransitionFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if j.Status != expectedFrom {
		return ErrConflict
	}
	if err := job.Validate(expectedFrom, to); err != nil {
		return err
	}

	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	if fields.WorkerID != nil {
		j.WorkerID = *fields.WorkerID
	}
	if fields.StartedAt != nil {
		j.StartedAt = fields.StartedAt
	}
	if fields.CompletedAt != nil {
		j.CompletedAt = fields.CompletedAt
	}
	if fields.ErrorMessage != nil {
		j.ErrorMessage = *fields.ErrorMessage
	}
	r.jobs[jobID] = j
	return nil
}

func (r *InMemoryJobRepository) UpdateCounters(jobID string, delta model.JobCounterDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.PagesCrawled += delta.Crawled
	j.PagesFailed += delta.Failed
	j.PagesSkipped += delta.Skipped
	r.jobs[jobID] = j
	return nil
}

func (r *InMemoryJobRepository) RequestCancellation(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; !ok {
		return ErrNotFound
	}
	r.cancels[jobID] = true
	return nil
}

func (r *InMemoryJobRepository) IsCancellationRequested(jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancels[jobID], nil
}

var _ JobRepository = (*InMemoryJobRepository)(nil)
