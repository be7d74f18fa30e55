package visualrepo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "jan-server/services/visual-api/internal/domain/visual"
)

func TestEntityMappingKeepsDocuments(t *testing.T) {
	at := 12.5
	audio := true
	original := domain.GenerateIdentifier("video/mp4")
	v := &domain.Visual{
		ID:        domain.GenerateIdentifier("video/mp4"),
		BinderID:  "binder-1",
		Filename:  "clip.mp4",
		Extension: "mp4",
		MD5:       "0123456789abcdef0123456789abcdef",
		Mime:      "video/mp4",
		Status:    domain.StatusProcessingBackground,
		CommentID: "comment-1",
		Created:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Formats: []domain.VisualFormat{
			{FormatType: domain.FormatOriginal, StorageLocation: "video-v2://videos/x/original.mp4", Container: "x"},
			{FormatType: domain.FormatVideoScreenshot, KeyFramePosition: &at, StorageLocation: "video-v2://videos/x/shot.jpg"},
		},
		OriginalVisualData: &domain.OriginalVisualData{BinderID: "binder-0", VisualID: original},
		StreamingInfo:      &domain.StreamingInfo{ManifestPaths: []string{"x/master.m3u8"}, StreamingHostname: "https://stream.example.com"},
		AudioEnabled:       &audio,
		LanguageCodes:      []string{"en", "nl"},
	}

	entity, err := toEntity(v)
	require.NoError(t, err)
	assert.Equal(t, string(domain.UsageDocument), entity.Usage)
	require.NotNil(t, entity.OriginalVisualID)
	assert.Equal(t, original.String(), *entity.OriginalVisualID)

	back, err := toDomain(*entity)
	require.NoError(t, err)
	assert.Equal(t, v.ID, back.ID)
	assert.Equal(t, v.Formats, back.Formats)
	assert.Equal(t, v.OriginalVisualData, back.OriginalVisualData)
	assert.Equal(t, v.StreamingInfo, back.StreamingInfo)
	assert.Equal(t, v.LanguageCodes, back.LanguageCodes)
	assert.Equal(t, v.Created, back.Created)
}

func TestEntityMappingWithoutOptionalDocuments(t *testing.T) {
	v := &domain.Visual{
		ID:       domain.GenerateIdentifier("image/png"),
		BinderID: "binder-1",
		MD5:      "abc",
		Mime:     "image/png",
		Status:   domain.StatusAccepted,
		Usage:    domain.UsageReaderComment,
	}

	entity, err := toEntity(v)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(entity.Formats))
	assert.Nil(t, entity.StreamingInfo)
	assert.Nil(t, entity.OriginalBinderID)

	back, err := toDomain(*entity)
	require.NoError(t, err)
	assert.Empty(t, back.Formats)
	assert.Nil(t, back.StreamingInfo)
	assert.Nil(t, back.OriginalVisualData)
	assert.Equal(t, domain.UsageReaderComment, back.Usage)
}
