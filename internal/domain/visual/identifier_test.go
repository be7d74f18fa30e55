package visual

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
)

func TestGenerateIdentifierPrefixFollowsMime(t *testing.T) {
	tests := []struct {
		mime   string
		prefix string
		kind   Kind
	}{
		{"image/png", "img-", KindImage},
		{"image/svg+xml", "img-", KindImage},
		{"video/mp4", "vid-", KindVideo},
		{"Video/QuickTime", "vid-", KindVideo},
		{"application/octet-stream", "img-", KindImage},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			id := GenerateIdentifier(tt.mime)
			assert.True(t, strings.HasPrefix(id.String(), tt.prefix))
			assert.Equal(t, tt.kind, id.Kind())
		})
	}
}

func TestGenerateIdentifierIsUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 1000; i++ {
		id := GenerateIdentifier("image/jpeg").String()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestParseIdentifier(t *testing.T) {
	id, err := ParseIdentifier("vid-01hx")
	require.NoError(t, err)
	assert.True(t, id.IsVideo())

	id, err = ParseIdentifier(" img-abc ")
	require.NoError(t, err)
	assert.Equal(t, "img-abc", id.String())
	assert.Equal(t, KindImage, id.Kind())

	for _, raw := range []string{"", "abc", "img-", "vid-", "IMG-abc", "doc-123"} {
		_, err := ParseIdentifier(raw)
		assert.True(t, procerrors.IsKind(err, procerrors.KindValidation), "expected validation error for %q", raw)
	}
}

func TestParseIdentifierOfKind(t *testing.T) {
	_, err := ParseIdentifierOfKind("img-abc", KindVideo)
	assert.True(t, procerrors.IsKind(err, procerrors.KindValidation))

	id, err := ParseIdentifierOfKind("vid-abc", KindVideo)
	require.NoError(t, err)
	assert.Equal(t, "vid-abc", id.String())
}

func TestIdentifierJSON(t *testing.T) {
	type wrapper struct {
		ID Identifier `json:"id"`
	}
	raw, err := json.Marshal(wrapper{ID: MustParseIdentifier("vid-xyz")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"vid-xyz"}`, string(raw))

	var decoded wrapper
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, decoded.ID.IsVideo())

	assert.Error(t, json.Unmarshal([]byte(`{"id":"nope"}`), &decoded))
}
