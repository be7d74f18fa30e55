package jobrepo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "jan-server/services/visual-api/internal/domain/job"
	"jan-server/services/visual-api/internal/infrastructure/database/entities"
	"jan-server/services/visual-api/internal/utils/platformerrors"
)

// PostgresRepository stores processing jobs. The primary key on visual_id is what keeps at most
// one job per visual across replicas.
type PostgresRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

func dbError(ctx context.Context, message string, err error, code string) error {
	return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, message, err, code)
}

func (r *PostgresRepository) Create(ctx context.Context, j *domain.Job) error {
	details, err := encodeDetails(j.StepDetails)
	if err != nil {
		return dbError(ctx, "failed to encode step details", err, "3d6e1a2c-8f4b-4c7d-9e0a-1b2c3d4e5f60")
	}
	now := r.now().UTC()
	entity := entities.VisualProcessingJob{
		VisualID:    j.VisualID,
		Step:        string(j.Step),
		StepDetails: details,
		AccountID:   j.AccountID,
		Retries:     j.Retries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeConflict,
				"processing job already exists", err, "e5b8d2c1-9a4f-4e7b-8c3d-2a1f0e9d8c7b")
		}
		return dbError(ctx, "failed to create processing job", err, "4e7f2b3d-9a5c-4d8e-8f1b-2c3d4e5f6071")
	}
	mapped, err := toDomain(entity)
	if err != nil {
		return dbError(ctx, "failed to decode processing job", err, "5f8a3c4e-0b6d-4e9f-9a2c-3d4e5f607182")
	}
	*j = *mapped
	return nil
}

func (r *PostgresRepository) Transition(ctx context.Context, visualID string, step domain.Step, details domain.StepDetails, opts domain.TransitionOptions) (*domain.Job, error) {
	if !step.Valid() {
		return nil, invalidStep(ctx, step)
	}
	updates := map[string]any{
		"step":       string(step),
		"updated_at": r.now().UTC(),
	}
	if details != nil {
		encoded, err := encodeDetails(details)
		if err != nil {
			return nil, dbError(ctx, "failed to encode step details", err, "6a9b4d5f-1c7e-4f0a-8b3d-4e5f60718293")
		}
		updates["step_details"] = encoded
	}
	if opts.IncreaseRetryCount {
		updates["retries"] = gorm.Expr("retries + 1")
	}
	return r.update(ctx, visualID, updates)
}

// UpdateStepDetails merges the patch into the stored document with jsonb concatenation, so
// concurrent patches of different keys never overwrite each other.
func (r *PostgresRepository) UpdateStepDetails(ctx context.Context, visualID string, patch domain.StepDetails) (*domain.Job, error) {
	encoded, err := encodeDetails(patch)
	if err != nil {
		return nil, dbError(ctx, "failed to encode step details", err, "7b0c5e6a-2d8f-4a1b-9c4e-5f6071829304")
	}
	return r.update(ctx, visualID, map[string]any{
		"step_details": gorm.Expr("step_details || ?::jsonb", string(encoded)),
		"updated_at":   r.now().UTC(),
	})
}

func (r *PostgresRepository) update(ctx context.Context, visualID string, updates map[string]any) (*domain.Job, error) {
	var entity entities.VisualProcessingJob
	result := r.db.WithContext(ctx).Model(&entity).
		Clauses(clause.Returning{}).
		Where("visual_id = ?", visualID).
		Updates(updates)
	if result.Error != nil {
		return nil, dbError(ctx, "failed to update processing job", result.Error, "8c1d6f7b-3e9a-4b2c-8d5f-607182930415")
	}
	if result.RowsAffected == 0 {
		return nil, notFound(ctx, visualID)
	}
	j, err := toDomain(entity)
	if err != nil {
		return nil, dbError(ctx, "failed to decode processing job", err, "9d2e7a8c-4f0b-4c3d-9e6a-718293041526")
	}
	return j, nil
}

func (r *PostgresRepository) Find(ctx context.Context, visualID string) (*domain.Job, error) {
	var entity entities.VisualProcessingJob
	if err := r.db.WithContext(ctx).Where("visual_id = ?", visualID).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(ctx, visualID)
		}
		return nil, dbError(ctx, "failed to find processing job", err, "0e3f8b9d-5a1c-4d4e-8f7b-829304152637")
	}
	j, err := toDomain(entity)
	if err != nil {
		return nil, dbError(ctx, "failed to decode processing job", err, "1f4a9c0e-6b2d-4e5f-9a8c-930415263748")
	}
	return j, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, visualID string) error {
	result := r.db.WithContext(ctx).Where("visual_id = ?", visualID).Delete(&entities.VisualProcessingJob{})
	if result.Error != nil {
		return dbError(ctx, "failed to delete processing job", result.Error, "2a5b0d1f-7c3e-4f6a-8b9d-041526374859")
	}
	if result.RowsAffected == 0 {
		return notFound(ctx, visualID)
	}
	return nil
}

func (r *PostgresRepository) FindWithRestrictions(ctx context.Context, restrictions domain.Restrictions) ([]*domain.Job, error) {
	query := r.db.WithContext(ctx).Model(&entities.VisualProcessingJob{})
	if len(restrictions.VisualIDs) > 0 {
		query = query.Where("visual_id IN ?", restrictions.VisualIDs)
	}
	if restrictions.CreatedAfter != nil {
		query = query.Where("created_at > ?", *restrictions.CreatedAfter)
	}
	if restrictions.LastUpdatedBefore != nil {
		query = query.Where("updated_at < ?", *restrictions.LastUpdatedBefore)
	}
	if len(restrictions.Steps) > 0 {
		steps := make([]string, 0, len(restrictions.Steps))
		for _, s := range restrictions.Steps {
			steps = append(steps, string(s))
		}
		query = query.Where("step IN ?", steps)
	}
	if restrictions.Limit > 0 {
		query = query.Limit(restrictions.Limit)
	}

	var rows []entities.VisualProcessingJob
	if err := query.Order("created_at ASC").Order("visual_id ASC").Find(&rows).Error; err != nil {
		return nil, dbError(ctx, "failed to find processing jobs", err, "3b6c1e2a-8d4f-4a7b-9c0e-152637485960")
	}
	result := make([]*domain.Job, 0, len(rows))
	for _, row := range rows {
		j, err := toDomain(row)
		if err != nil {
			return nil, dbError(ctx, "failed to decode processing job", err, "4c7d2f3b-9e5a-4b8c-8d1f-263748596071")
		}
		result = append(result, j)
	}
	return result, nil
}

func encodeDetails(details domain.StepDetails) (datatypes.JSON, error) {
	if details == nil {
		details = domain.StepDetails{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func toDomain(entity entities.VisualProcessingJob) (*domain.Job, error) {
	details := domain.StepDetails{}
	if len(entity.StepDetails) > 0 {
		if err := json.Unmarshal(entity.StepDetails, &details); err != nil {
			return nil, err
		}
	}
	return &domain.Job{
		VisualID:    entity.VisualID,
		Step:        domain.Step(entity.Step),
		StepDetails: details,
		AccountID:   entity.AccountID,
		Retries:     entity.Retries,
		Created:     entity.CreatedAt,
		Updated:     entity.UpdatedAt,
	}, nil
}
