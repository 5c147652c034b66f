// Package registry keeps the in-memory state of every organize job.
//
// The registry is the only source of truth for job state. Callers never hold
// a reference into it: reads return deep copies and writes go through Update,
// which holds the write lock only while the mutation runs.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
)

type entry struct {
	job             domain.Job
	cancelRequested bool
	cancel          context.CancelFunc
}

type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*entry
	now  func() time.Time
}

func New() *Registry {
	return &Registry{
		jobs: make(map[string]*entry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a queued job and returns its snapshot.
func (r *Registry) Create(inputRoot, outputRoot string, settings domain.Settings) domain.Job {
	job := domain.Job{
		ID:         uuid.NewString(),
		Status:     domain.JobStatusQueued,
		Phase:      domain.PhaseQueued,
		InputRoot:  inputRoot,
		OutputRoot: outputRoot,
		Settings:   settings,
		CreatedAt:  r.now(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = &entry{job: job}
	r.mu.Unlock()

	return job.Clone()
}

func (r *Registry) Get(id string) (domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return e.job.Clone(), nil
}

// List returns snapshots of every job, oldest first.
func (r *Registry) List() []domain.Job {
	r.mu.RLock()
	jobs := make([]domain.Job, 0, len(r.jobs))
	for _, e := range r.jobs {
		jobs = append(jobs, e.job.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// Update applies fn to the job and publishes the result. Progress counters
// never move backwards and a terminal job rejects further updates with
// ErrNotCancellable.
func (r *Registry) Update(id string, fn func(*domain.Job)) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	if e.job.Status.Terminal() {
		return e.job.Clone(), domain.ErrNotCancellable
	}

	prev := e.job
	next := e.job.Clone()
	fn(&next)

	next.ID = prev.ID
	next.CreatedAt = prev.CreatedAt
	if next.ProcessedItems < prev.ProcessedItems {
		next.ProcessedItems = prev.ProcessedItems
	}
	if next.Progress < prev.Progress {
		next.Progress = prev.Progress
	}
	if next.Progress > 100 {
		next.Progress = 100
	}
	if next.Status.Terminal() && next.FinishedAt == nil {
		finished := r.now()
		next.FinishedAt = &finished
	}

	e.job = next
	return next.Clone(), nil
}

// Start binds the cancel function of a job and moves it to running in one
// step, so a Cancel either ends it while queued or finds it running. It fails
// with ErrNotCancellable when the job was cancelled before a worker picked it
// up.
func (r *Registry) Start(id string, cancel context.CancelFunc) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	if e.job.Status.Terminal() {
		return e.job.Clone(), domain.ErrNotCancellable
	}
	started := r.now()
	e.cancel = cancel
	e.job.Status = domain.JobStatusRunning
	e.job.Phase = domain.PhaseDiscovering
	e.job.StartedAt = &started
	return e.job.Clone(), nil
}

// Cancel ends a queued job immediately. A running job is flagged and its
// context cancelled; the controller finishes it at the next item boundary.
func (r *Registry) Cancel(id string) (domain.Job, error) {
	r.mu.Lock()

	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return domain.Job{}, domain.ErrNotFound
	}
	if e.job.Status.Terminal() {
		snapshot := e.job.Clone()
		r.mu.Unlock()
		return snapshot, domain.ErrNotCancellable
	}

	var cancel context.CancelFunc
	e.cancelRequested = true
	if e.job.Status == domain.JobStatusQueued {
		finished := r.now()
		e.job.Status = domain.JobStatusCancelled
		e.job.Phase = domain.PhaseDone
		e.job.FinishedAt = &finished
	} else {
		cancel = e.cancel
	}
	snapshot := e.job.Clone()
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return snapshot, nil
}

func (r *Registry) CancelRequested(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.jobs[id]
	return ok && e.cancelRequested
}

// Delete purges a terminal job.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !e.job.Status.Terminal() {
		return domain.ErrJobActive
	}
	delete(r.jobs, id)
	return nil
}

// Remove drops a job regardless of its state. It backs out a submission the
// pool refused.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}
