package job

import (
	"context"
	"time"
)

// TransitionOptions tunes a Transition call.
type TransitionOptions struct {
	IncreaseRetryCount bool
}

// Restrictions narrows FindWithRestrictions. Zero values are ignored.
type Restrictions struct {
	VisualIDs         []string
	CreatedAfter      *time.Time
	LastUpdatedBefore *time.Time
	Steps             []Step
	Limit             int
}

// Repository stores processing jobs keyed uniquely by visual id.
//
// Create fails with a platformerrors conflict when a job already exists for the visual. Transition,
// UpdateStepDetails and Find fail with a platformerrors not-found error when none exists.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	// Transition moves the job to step and bumps its updated timestamp. A non-nil details
	// replaces the stored step details; nil keeps them.
	Transition(ctx context.Context, visualID string, step Step, details StepDetails, opts TransitionOptions) (*Job, error)
	// UpdateStepDetails shallow-merges patch into the stored details and bumps updated.
	UpdateStepDetails(ctx context.Context, visualID string, patch StepDetails) (*Job, error)
	Find(ctx context.Context, visualID string) (*Job, error)
	Delete(ctx context.Context, visualID string) error
	// FindWithRestrictions returns matching jobs, oldest created first.
	FindWithRestrictions(ctx context.Context, r Restrictions) ([]*Job, error)
}
