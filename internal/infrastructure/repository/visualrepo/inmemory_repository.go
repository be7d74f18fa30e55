package visualrepo

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	domain "jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/utils/platformerrors"
)

// InMemoryRepository is a thread-safe visual store with the same uniqueness rules as Postgres.
// Used by tests and by REPOSITORY_BACKEND=memory.
type InMemoryRepository struct {
	mu      sync.RWMutex
	visuals map[string]domain.Visual
	now     func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		visuals: make(map[string]domain.Visual),
		now:     time.Now,
	}
}

func key(binderID string, id domain.Identifier) string {
	return binderID + "/" + id.String()
}

func clone(v domain.Visual) *domain.Visual {
	v.Formats = slices.Clone(v.Formats)
	v.LanguageCodes = slices.Clone(v.LanguageCodes)
	if v.OriginalVisualData != nil {
		ref := *v.OriginalVisualData
		v.OriginalVisualData = &ref
	}
	if v.StreamingInfo != nil {
		info := *v.StreamingInfo
		info.ManifestPaths = slices.Clone(info.ManifestPaths)
		v.StreamingInfo = &info
	}
	if v.DeletedAt != nil {
		deleted := *v.DeletedAt
		v.DeletedAt = &deleted
	}
	return &v
}

func notFound(ctx context.Context, id domain.Identifier) error {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
		"visual not found", nil, "4f0a7c3e-1d2b-4e8a-9c6f-5b3d2a1e0f9c", map[string]any{"visual_id": id.String()})
}

func (r *InMemoryRepository) Create(ctx context.Context, v *domain.Visual) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(v.BinderID, v.ID)
	if _, exists := r.visuals[k]; exists {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeConflict,
			"visual already exists", nil, "8e1c4b7a-2f3d-4a6e-b5c9-0d8f7e6a5b4c")
	}
	for _, existing := range r.visuals {
		if existing.BinderID == v.BinderID && existing.MD5 == v.MD5 && existing.CommentID == v.CommentID {
			return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeConflict,
				"duplicate visual", nil, "b7d2e9f1-6a4c-4d3b-8e2a-1f9c0b7d6e5a")
		}
	}
	stored := clone(*v)
	if stored.Created.IsZero() {
		stored.Created = r.now().UTC()
	}
	r.visuals[k] = *stored
	return nil
}

func (r *InMemoryRepository) Update(ctx context.Context, binderID string, id domain.Identifier, update domain.Update) (*domain.Visual, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(binderID, id)
	current, ok := r.visuals[k]
	if !ok || current.DeletedAt != nil {
		return nil, notFound(ctx, id)
	}
	updated := update.Apply(*clone(current))
	r.visuals[k] = updated
	return clone(updated), nil
}

func (r *InMemoryRepository) Get(ctx context.Context, binderID string, id domain.Identifier) (*domain.Visual, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.visuals[key(binderID, id)]
	if !ok || v.DeletedAt != nil {
		return nil, notFound(ctx, id)
	}
	return clone(v), nil
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id domain.Identifier) (*domain.Visual, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.visuals {
		if v.ID == id && v.DeletedAt == nil {
			return clone(v), nil
		}
	}
	return nil, notFound(ctx, id)
}

func (r *InMemoryRepository) Find(ctx context.Context, filter domain.Filter) ([]*domain.Visual, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Visual
	for _, v := range r.visuals {
		if matches(v, filter) {
			result = append(result, clone(v))
		}
	}
	sortByCreated(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func matches(v domain.Visual, f domain.Filter) bool {
	switch {
	case f.OnlyDeleted && v.DeletedAt == nil:
		return false
	case !f.OnlyDeleted && !f.IncludeDeleted && v.DeletedAt != nil:
		return false
	case f.BinderID != "" && v.BinderID != f.BinderID:
		return false
	case len(f.IDs) > 0 && !slices.Contains(f.IDs, v.ID):
		return false
	case f.MD5 != "" && v.MD5 != f.MD5:
		return false
	case f.CommentID != nil && v.CommentID != *f.CommentID:
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, v.Status):
		return false
	case f.CreatedBefore != nil && !v.Created.Before(*f.CreatedBefore):
		return false
	}
	return true
}

func sortByCreated(visuals []*domain.Visual) {
	sort.SliceStable(visuals, func(i, j int) bool {
		if visuals[i].Created.Equal(visuals[j].Created) {
			return visuals[i].ID.String() < visuals[j].ID.String()
		}
		return visuals[i].Created.Before(visuals[j].Created)
	})
}

func (r *InMemoryRepository) FindByOriginal(ctx context.Context, originalBinderID string, originalID domain.Identifier) ([]*domain.Visual, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Visual
	for _, v := range r.visuals {
		ref := v.OriginalVisualData
		if v.DeletedAt == nil && ref != nil && ref.BinderID == originalBinderID && ref.VisualID == originalID {
			result = append(result, clone(v))
		}
	}
	sortByCreated(result)
	return result, nil
}

func (r *InMemoryRepository) SoftDelete(ctx context.Context, binderID string, ids []domain.Identifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for _, id := range ids {
		k := key(binderID, id)
		if v, ok := r.visuals[k]; ok && v.DeletedAt == nil {
			v.DeletedAt = &now
			r.visuals[k] = v
		}
	}
	return nil
}

func (r *InMemoryRepository) Restore(ctx context.Context, binderID string, id domain.Identifier) (*domain.Visual, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(binderID, id)
	v, ok := r.visuals[k]
	if !ok {
		return nil, notFound(ctx, id)
	}
	v.DeletedAt = nil
	r.visuals[k] = v
	return clone(v), nil
}

func (r *InMemoryRepository) HardDelete(ctx context.Context, binderID string, ids []domain.Identifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		delete(r.visuals, key(binderID, id))
	}
	return nil
}
