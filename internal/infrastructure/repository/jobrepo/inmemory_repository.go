package jobrepo

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	domain "jan-server/services/visual-api/internal/domain/job"
	"jan-server/services/visual-api/internal/utils/platformerrors"
)

// InMemoryRepository keeps one job per visual id in process memory. Used by tests and by
// REPOSITORY_BACKEND=memory.
type InMemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
	now  func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		jobs: make(map[string]domain.Job),
		now:  time.Now,
	}
}

// WithClock replaces the clock stamping created/updated. Tests use it to age jobs.
func (r *InMemoryRepository) WithClock(now func() time.Time) *InMemoryRepository {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	return r
}

func clone(j domain.Job) *domain.Job {
	j.StepDetails = maps.Clone(j.StepDetails)
	return &j
}

func notFound(ctx context.Context, visualID string) error {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
		"processing job not found", nil, "c3a9e1d4-7b2f-4c8e-a6d5-9f0e1b2c3d4a", map[string]any{"visual_id": visualID})
}

func invalidStep(ctx context.Context, step domain.Step) error {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeValidation,
		"unknown processing step", nil, "5e2d8a1f-3c7b-4f9e-b0a6-d4c1e8f2a7b3", map[string]any{"step": string(step)})
}

func (r *InMemoryRepository) Create(ctx context.Context, j *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[j.VisualID]; exists {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeConflict,
			"processing job already exists", nil, "e5b8d2c1-9a4f-4e7b-8c3d-2a1f0e9d8c7b")
	}
	stored := clone(*j)
	now := r.now().UTC()
	stored.Created, stored.Updated = now, now
	if stored.StepDetails == nil {
		stored.StepDetails = domain.StepDetails{}
	}
	r.jobs[j.VisualID] = *stored
	*j = *clone(*stored)
	return nil
}

func (r *InMemoryRepository) Transition(ctx context.Context, visualID string, step domain.Step, details domain.StepDetails, opts domain.TransitionOptions) (*domain.Job, error) {
	if !step.Valid() {
		return nil, invalidStep(ctx, step)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[visualID]
	if !ok {
		return nil, notFound(ctx, visualID)
	}
	j.Step = step
	if details != nil {
		j.StepDetails = maps.Clone(details)
	}
	if opts.IncreaseRetryCount {
		j.Retries++
	}
	j.Updated = r.now().UTC()
	r.jobs[visualID] = j
	return clone(j), nil
}

func (r *InMemoryRepository) UpdateStepDetails(ctx context.Context, visualID string, patch domain.StepDetails) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[visualID]
	if !ok {
		return nil, notFound(ctx, visualID)
	}
	merged := maps.Clone(j.StepDetails)
	if merged == nil {
		merged = domain.StepDetails{}
	}
	maps.Copy(merged, patch)
	j.StepDetails = merged
	j.Updated = r.now().UTC()
	r.jobs[visualID] = j
	return clone(j), nil
}

func (r *InMemoryRepository) Find(ctx context.Context, visualID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[visualID]
	if !ok {
		return nil, notFound(ctx, visualID)
	}
	return clone(j), nil
}

func (r *InMemoryRepository) Delete(ctx context.Context, visualID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[visualID]; !ok {
		return notFound(ctx, visualID)
	}
	delete(r.jobs, visualID)
	return nil
}

func (r *InMemoryRepository) FindWithRestrictions(ctx context.Context, restrictions domain.Restrictions) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Job
	for _, j := range r.jobs {
		switch {
		case len(restrictions.VisualIDs) > 0 && !slices.Contains(restrictions.VisualIDs, j.VisualID):
			continue
		case restrictions.CreatedAfter != nil && !j.Created.After(*restrictions.CreatedAfter):
			continue
		case restrictions.LastUpdatedBefore != nil && !j.Updated.Before(*restrictions.LastUpdatedBefore):
			continue
		case len(restrictions.Steps) > 0 && !slices.Contains(restrictions.Steps, j.Step):
			continue
		}
		result = append(result, clone(j))
	}

	sort.SliceStable(result, func(i, k int) bool {
		if result[i].Created.Equal(result[k].Created) {
			return result[i].VisualID < result[k].VisualID
		}
		return result[i].Created.Before(result[k].Created)
	})
	if restrictions.Limit > 0 && len(result) > restrictions.Limit {
		result = result[:restrictions.Limit]
	}
	return result, nil
}
