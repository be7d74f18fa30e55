package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"jan-server/services/visual-api/internal/domain/visual"
)

func TestObjectNaming(t *testing.T) {
	assert.Equal(t, "original.mp4", objectName(visual.FormatOriginal, "mp4"))
	assert.Equal(t, "thumbnail.jpg", objectName(visual.FormatThumbnail, ".jpg"))
	assert.Equal(t, "medium", objectName(visual.FormatMedium, ""))
	assert.Equal(t, "png", extensionFor("image/png", "/tmp/x.bin"))
	assert.Equal(t, "bin", extensionFor("application/x-unknown", "/tmp/x.BIN"))
}

func TestRangeHelpers(t *testing.T) {
	end := int64(99)
	assert.Equal(t, "", rangeHeader(nil))
	assert.Equal(t, "bytes=10-", rangeHeader(&visual.ByteRange{Start: 10}))
	assert.Equal(t, "bytes=0-99", rangeHeader(&visual.ByteRange{End: &end}))

	assert.EqualValues(t, 1000, totalFromContentRange("bytes 0-99/1000"))
	assert.EqualValues(t, 0, totalFromContentRange("bytes 0-99/*"))
	assert.EqualValues(t, 0, totalFromContentRange(""))
}

func TestAzureMatchesAccountAndContainer(t *testing.T) {
	s := &AzureStorage{account: "acct", container: "images"}

	assert.True(t, s.MatchesURL("azure://acct/images/b/img-1/original.png"))
	assert.False(t, s.MatchesURL("azure://acct/images-old/b/img-1/original.png"))
	assert.False(t, s.MatchesURL("azure://other/images/b/img-1/original.png"))
	assert.False(t, s.MatchesURL("s3://acct/images/x"))
}
