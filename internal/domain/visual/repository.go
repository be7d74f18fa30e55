package visual

import (
	"context"
	"time"
)

// Filter narrows Find results. Zero values are ignored.
type Filter struct {
	BinderID  string
	IDs       []Identifier
	MD5       string
	CommentID *string
	Statuses  []Status
	// CreatedBefore matches visuals created strictly before the timestamp.
	CreatedBefore *time.Time
	// IncludeDeleted returns soft-deleted visuals alongside live ones.
	IncludeDeleted bool
	OnlyDeleted    bool
	Limit          int
}

// Repository is the durable store of Visual documents.
//
// Create fails with a platformerrors conflict when (binderId, md5, commentId) is already taken,
// including by a soft-deleted visual. Get and Update fail with a platformerrors not-found error
// when no live visual matches.
type Repository interface {
	Create(ctx context.Context, v *Visual) error
	Update(ctx context.Context, binderID string, id Identifier, update Update) (*Visual, error)
	Get(ctx context.Context, binderID string, id Identifier) (*Visual, error)
	// GetByID ignores the binder. Used when only the id is known, e.g. by the stale-job sweep.
	GetByID(ctx context.Context, id Identifier) (*Visual, error)
	Find(ctx context.Context, filter Filter) ([]*Visual, error)
	FindByOriginal(ctx context.Context, originalBinderID string, originalID Identifier) ([]*Visual, error)
	SoftDelete(ctx context.Context, binderID string, ids []Identifier) error
	Restore(ctx context.Context, binderID string, id Identifier) (*Visual, error)
	HardDelete(ctx context.Context, binderID string, ids []Identifier) error
}
