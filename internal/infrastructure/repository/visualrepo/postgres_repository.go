package visualrepo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/infrastructure/database/entities"
	"jan-server/services/visual-api/internal/utils/platformerrors"
)

// PostgresRepository stores visuals in Postgres. Formats and streaming info are jsonb documents.
type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func dbError(ctx context.Context, message string, err error, code string) error {
	return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, message, err, code)
}

func (r *PostgresRepository) Create(ctx context.Context, v *domain.Visual) error {
	entity, err := toEntity(v)
	if err != nil {
		return dbError(ctx, "failed to encode visual", err, "3f6a1c2e-8b4d-4e7a-9c5f-1d2e3f4a5b6c")
	}
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeConflict,
				"duplicate visual", err, "b7d2e9f1-6a4c-4d3b-8e2a-1f9c0b7d6e5a")
		}
		return dbError(ctx, "failed to create visual", err, "4a7b2d3f-9c5e-4f8b-8d6a-2e3f4a5b6c7d")
	}
	v.Created = entity.CreatedAt
	return nil
}

// Update locks the row so concurrent format merges from duplicates and the original never lose
// each other's formats.
func (r *PostgresRepository) Update(ctx context.Context, binderID string, id domain.Identifier, update domain.Update) (*domain.Visual, error) {
	var updated *domain.Visual
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entity entities.Visual
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("binder_id = ? AND id = ? AND deleted_at IS NULL", binderID, id.String()).
			First(&entity).Error
		if err != nil {
			return err
		}

		current, err := toDomain(entity)
		if err != nil {
			return err
		}
		next := update.Apply(*current)
		nextEntity, err := toEntity(&next)
		if err != nil {
			return err
		}

		err = tx.Model(&entities.Visual{}).
			Where("binder_id = ? AND id = ?", binderID, id.String()).
			Updates(map[string]any{
				"status":             nextEntity.Status,
				"formats":            nextEntity.Formats,
				"streaming_info":     nextEntity.StreamingInfo,
				"original_binder_id": nextEntity.OriginalBinderID,
				"original_visual_id": nextEntity.OriginalVisualID,
				"updated_at":         time.Now().UTC(),
			}).Error
		if err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(ctx, id)
		}
		return nil, dbError(ctx, "failed to update visual", err, "5b8c3e4a-0d6f-4a9c-9e7b-3f4a5b6c7d8e")
	}
	return updated, nil
}

func (r *PostgresRepository) Get(ctx context.Context, binderID string, id domain.Identifier) (*domain.Visual, error) {
	return r.first(ctx, id, r.db.WithContext(ctx).Where("binder_id = ? AND id = ? AND deleted_at IS NULL", binderID, id.String()))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id domain.Identifier) (*domain.Visual, error) {
	return r.first(ctx, id, r.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id.String()).Order("created_at ASC"))
}

func (r *PostgresRepository) first(ctx context.Context, id domain.Identifier, query *gorm.DB) (*domain.Visual, error) {
	var entity entities.Visual
	if err := query.First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(ctx, id)
		}
		return nil, dbError(ctx, "failed to get visual", err, "6c9d4f5b-1e7a-4b0d-8f8c-4a5b6c7d8e9f")
	}
	v, err := toDomain(entity)
	if err != nil {
		return nil, dbError(ctx, "failed to decode visual", err, "7d0e5a6c-2f8b-4c1e-9a9d-5b6c7d8e9f0a")
	}
	return v, nil
}

func (r *PostgresRepository) Find(ctx context.Context, filter domain.Filter) ([]*domain.Visual, error) {
	query := r.db.WithContext(ctx).Model(&entities.Visual{})
	switch {
	case filter.OnlyDeleted:
		query = query.Where("deleted_at IS NOT NULL")
	case !filter.IncludeDeleted:
		query = query.Where("deleted_at IS NULL")
	}
	if filter.BinderID != "" {
		query = query.Where("binder_id = ?", filter.BinderID)
	}
	if len(filter.IDs) > 0 {
		ids := make([]string, 0, len(filter.IDs))
		for _, id := range filter.IDs {
			ids = append(ids, id.String())
		}
		query = query.Where("id IN ?", ids)
	}
	if filter.MD5 != "" {
		query = query.Where("md5 = ?", filter.MD5)
	}
	if filter.CommentID != nil {
		query = query.Where("comment_id = ?", *filter.CommentID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status IN ?", statuses)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	return r.list(ctx, query.Order("created_at ASC").Order("id ASC"))
}

func (r *PostgresRepository) FindByOriginal(ctx context.Context, originalBinderID string, originalID domain.Identifier) ([]*domain.Visual, error) {
	query := r.db.WithContext(ctx).
		Where("original_binder_id = ? AND original_visual_id = ? AND deleted_at IS NULL", originalBinderID, originalID.String()).
		Order("created_at ASC").Order("id ASC")
	return r.list(ctx, query)
}

func (r *PostgresRepository) list(ctx context.Context, query *gorm.DB) ([]*domain.Visual, error) {
	var rows []entities.Visual
	if err := query.Find(&rows).Error; err != nil {
		return nil, dbError(ctx, "failed to find visuals", err, "8e1f6b7d-3a9c-4d2f-8b0e-6c7d8e9f0a1b")
	}
	result := make([]*domain.Visual, 0, len(rows))
	for _, row := range rows {
		v, err := toDomain(row)
		if err != nil {
			return nil, dbError(ctx, "failed to decode visual", err, "9f2a7c8e-4b0d-4e3a-9c1f-7d8e9f0a1b2c")
		}
		result = append(result, v)
	}
	return result, nil
}

func idStrings(ids []domain.Identifier) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, binderID string, ids []domain.Identifier) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&entities.Visual{}).
		Where("binder_id = ? AND id IN ? AND deleted_at IS NULL", binderID, idStrings(ids)).
		Updates(map[string]any{"deleted_at": time.Now().UTC()}).Error
	if err != nil {
		return dbError(ctx, "failed to delete visuals", err, "0a3b8d9f-5c1e-4f4b-8d2a-8e9f0a1b2c3d")
	}
	return nil
}

func (r *PostgresRepository) Restore(ctx context.Context, binderID string, id domain.Identifier) (*domain.Visual, error) {
	result := r.db.WithContext(ctx).Model(&entities.Visual{}).
		Where("binder_id = ? AND id = ?", binderID, id.String()).
		Update("deleted_at", nil)
	if result.Error != nil {
		return nil, dbError(ctx, "failed to restore visual", result.Error, "1b4c9e0a-6d2f-4a5c-9e3b-9f0a1b2c3d4e")
	}
	if result.RowsAffected == 0 {
		return nil, notFound(ctx, id)
	}
	return r.Get(ctx, binderID, id)
}

func (r *PostgresRepository) HardDelete(ctx context.Context, binderID string, ids []domain.Identifier) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Where("binder_id = ? AND id IN ?", binderID, idStrings(ids)).
		Delete(&entities.Visual{}).Error
	if err != nil {
		return dbError(ctx, "failed to purge visuals", err, "2c5d0f1b-7e3a-4b6d-8f4c-0a1b2c3d4e5f")
	}
	return nil
}

func marshalJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func toEntity(v *domain.Visual) (*entities.Visual, error) {
	formats := v.Formats
	if formats == nil {
		formats = []domain.VisualFormat{}
	}
	formatsJSON, err := marshalJSON(formats)
	if err != nil {
		return nil, err
	}
	entity := &entities.Visual{
		ID:           v.ID.String(),
		BinderID:     v.BinderID,
		Filename:     v.Filename,
		Extension:    v.Extension,
		MD5:          v.MD5,
		Mime:         v.Mime,
		Status:       string(v.Status),
		Usage:        string(v.Usage),
		CommentID:    v.CommentID,
		AccountID:    v.AccountID,
		Formats:      formatsJSON,
		AudioEnabled: v.AudioEnabled,
		Rotation:     v.Rotation,
		Fit:          v.Fit,
		CreatedAt:    v.Created,
		DeletedAt:    v.DeletedAt,
	}
	if entity.Usage == "" {
		entity.Usage = string(domain.UsageDocument)
	}
	if ref := v.OriginalVisualData; ref != nil {
		binder, original := ref.BinderID, ref.VisualID.String()
		entity.OriginalBinderID, entity.OriginalVisualID = &binder, &original
	}
	if v.StreamingInfo != nil {
		if entity.StreamingInfo, err = marshalJSON(v.StreamingInfo); err != nil {
			return nil, err
		}
	}
	if len(v.LanguageCodes) > 0 {
		if entity.LanguageCodes, err = marshalJSON(v.LanguageCodes); err != nil {
			return nil, err
		}
	}
	return entity, nil
}

func toDomain(entity entities.Visual) (*domain.Visual, error) {
	id, err := domain.ParseIdentifier(entity.ID)
	if err != nil {
		return nil, err
	}
	v := &domain.Visual{
		ID:           id,
		BinderID:     entity.BinderID,
		Filename:     entity.Filename,
		Extension:    entity.Extension,
		MD5:          entity.MD5,
		Mime:         entity.Mime,
		Status:       domain.Status(entity.Status),
		Usage:        domain.Usage(entity.Usage),
		CommentID:    entity.CommentID,
		AccountID:    entity.AccountID,
		Created:      entity.CreatedAt,
		AudioEnabled: entity.AudioEnabled,
		Rotation:     entity.Rotation,
		Fit:          entity.Fit,
		DeletedAt:    entity.DeletedAt,
	}
	if len(entity.Formats) > 0 {
		if err := json.Unmarshal(entity.Formats, &v.Formats); err != nil {
			return nil, err
		}
	}
	if entity.OriginalVisualID != nil && entity.OriginalBinderID != nil {
		originalID, err := domain.ParseIdentifier(*entity.OriginalVisualID)
		if err != nil {
			return nil, err
		}
		v.OriginalVisualData = &domain.OriginalVisualData{BinderID: *entity.OriginalBinderID, VisualID: originalID}
	}
	if len(entity.StreamingInfo) > 0 && string(entity.StreamingInfo) != "null" {
		v.StreamingInfo = &domain.StreamingInfo{}
		if err := json.Unmarshal(entity.StreamingInfo, v.StreamingInfo); err != nil {
			return nil, err
		}
	}
	if len(entity.LanguageCodes) > 0 {
		if err := json.Unmarshal(entity.LanguageCodes, &v.LanguageCodes); err != nil {
			return nil, err
		}
	}
	return v, nil
}
