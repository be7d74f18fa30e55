package visualrepo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/utils/platformerrors"
)

func newVisual(binderID, md5 string) *domain.Visual {
	return &domain.Visual{
		ID:       domain.GenerateIdentifier("image/png"),
		BinderID: binderID,
		MD5:      md5,
		Mime:     "image/png",
		Status:   domain.StatusAccepted,
	}
}

func TestCreateRejectsSameContentIncludingDeleted(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	first := newVisual("binder-1", "abc")
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.SoftDelete(ctx, "binder-1", []domain.Identifier{first.ID}))

	err := repo.Create(ctx, newVisual("binder-1", "abc"))
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeConflict))

	require.NoError(t, repo.Create(ctx, newVisual("binder-2", "abc")))
}

func TestSoftDeleteAndRestore(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	v := newVisual("binder-1", "abc")
	require.NoError(t, repo.Create(ctx, v))

	require.NoError(t, repo.SoftDelete(ctx, "binder-1", []domain.Identifier{v.ID}))
	_, err := repo.Get(ctx, "binder-1", v.ID)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))

	deleted, err := repo.Find(ctx, domain.Filter{BinderID: "binder-1", OnlyDeleted: true})
	require.NoError(t, err)
	require.Len(t, deleted, 1)

	restored, err := repo.Restore(ctx, "binder-1", v.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)
}

func TestUpdateMergesFormatsAndFindsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	original := newVisual("binder-1", "abc")
	require.NoError(t, repo.Create(ctx, original))

	dup := newVisual("binder-2", "abc")
	dup.OriginalVisualData = &domain.OriginalVisualData{BinderID: "binder-1", VisualID: original.ID}
	require.NoError(t, repo.Create(ctx, dup))

	updated, err := repo.Update(ctx, "binder-1", original.ID, domain.Update{
		Status:     domain.StatusPtr(domain.StatusCompleted),
		NewFormats: []domain.VisualFormat{{FormatType: domain.FormatThumbnail, StorageLocation: "azure://acct/images/t.png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, updated.Status)
	assert.True(t, updated.HasFormat(domain.FormatThumbnail))

	dups, err := repo.FindByOriginal(ctx, "binder-1", original.ID)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, dup.ID, dups[0].ID)

	found, err := repo.GetByID(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, "binder-1", found.BinderID)
}
