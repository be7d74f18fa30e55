package jobrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "jan-server/services/visual-api/internal/domain/job"
	"jan-server/services/visual-api/internal/utils/platformerrors"
)

func TestCreateIsUniquePerVisual(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	require.NoError(t, repo.Create(ctx, &domain.Job{VisualID: "vid-1", Step: domain.StepPreprocessing}))
	err := repo.Create(ctx, &domain.Job{VisualID: "vid-1", Step: domain.StepPreprocessing})
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeConflict))
}

func TestTransitionKeepsOrReplacesDetails(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewInMemoryRepository().WithClock(func() time.Time { return now })
	require.NoError(t, repo.Create(ctx, &domain.Job{VisualID: "vid-1", Step: domain.StepPreprocessing}))

	_, err := repo.UpdateStepDetails(ctx, "vid-1", domain.StepDetails{"encodingId": "enc-1"})
	require.NoError(t, err)
	_, err = repo.UpdateStepDetails(ctx, "vid-1", domain.StepDetails{"progress": 40})
	require.NoError(t, err)

	now = now.Add(time.Minute)
	j, err := repo.Transition(ctx, "vid-1", domain.StepTranscoding, nil, domain.TransitionOptions{IncreaseRetryCount: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StepTranscoding, j.Step)
	assert.Equal(t, "enc-1", j.StepDetails.String("encodingId"))
	assert.Equal(t, 40, j.StepDetails["progress"])
	assert.Equal(t, 1, j.Retries)
	assert.Equal(t, now, j.Updated)

	j, err = repo.Transition(ctx, "vid-1", domain.StepPreprocessing, domain.StepDetails{}, domain.TransitionOptions{})
	require.NoError(t, err)
	assert.Empty(t, j.StepDetails)
	assert.Equal(t, 1, j.Retries)
}

func TestMissingJobIsNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	_, err := repo.Find(ctx, "vid-x")
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))
	_, err = repo.Transition(ctx, "vid-x", domain.StepFailure, nil, domain.TransitionOptions{})
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))
	assert.True(t, platformerrors.IsErrorType(repo.Delete(ctx, "vid-x"), platformerrors.ErrorTypeNotFound))
}

func TestTransitionRejectsUnknownStep(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	require.NoError(t, repo.Create(ctx, &domain.Job{VisualID: "vid-a", Step: domain.StepPreprocessing}))

	_, err := repo.Transition(ctx, "vid-a", domain.Step("DONE"), nil, domain.TransitionOptions{})
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))

	j, err := repo.Find(ctx, "vid-a")
	require.NoError(t, err)
	assert.Equal(t, domain.StepPreprocessing, j.Step)
}

func TestFindWithRestrictionsOrdersOldestFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewInMemoryRepository().WithClock(func() time.Time { return now })

	for _, id := range []string{"vid-c", "vid-a", "vid-b"} {
		require.NoError(t, repo.Create(ctx, &domain.Job{VisualID: id, Step: domain.StepTranscoding}))
		now = now.Add(time.Second)
	}
	require.NoError(t, repo.Create(ctx, &domain.Job{VisualID: "vid-d", Step: domain.StepFailure}))

	cutoff := now
	jobs, err := repo.FindWithRestrictions(ctx, domain.Restrictions{
		Steps:             []domain.Step{domain.StepTranscoding},
		LastUpdatedBefore: &cutoff,
		Limit:             2,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "vid-c", jobs[0].VisualID)
	assert.Equal(t, "vid-a", jobs[1].VisualID)
}
