package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
)

func TestProcessingError_Error(t *testing.T) {
	err := procerrors.JobInProgress("vid-01h")
	assert.Equal(t, "job_in_progress: processing job already in progress (visual vid-01h)", err.Error())

	cause := errors.New("boom")
	wrapped := procerrors.Validation("unsupported mime type video/x-foo").WithCause(cause)
	assert.Equal(t, "validation: unsupported mime type video/x-foo (caused by: boom)", wrapped.Error())
	assert.Same(t, cause, errors.Unwrap(wrapped))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want procerrors.Kind
	}{
		{"direct", procerrors.MaxRetries("vid-1", 2), procerrors.KindMaxRetries},
		{"wrapped", fmt.Errorf("screenshots: %w", procerrors.NotAVideo("vid-1")), procerrors.KindNotAVideo},
		{"plain", errors.New("plain"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, procerrors.KindOf(tt.err))
		})
	}
}

func TestIsMatchesKindOnly(t *testing.T) {
	err := fmt.Errorf("wait: %w", procerrors.TranscodeTimeout("vid-9", "enc-1"))
	assert.True(t, errors.Is(err, &procerrors.ProcessingError{Kind: procerrors.KindTranscodeTimeout}))
	assert.False(t, errors.Is(err, &procerrors.ProcessingError{Kind: procerrors.KindTranscodeFailed}))
	assert.True(t, procerrors.IsKind(err, procerrors.KindTranscodeTimeout))
}

func TestFieldsAreRecorded(t *testing.T) {
	err := procerrors.NoMatchingBackend("ftp://nowhere/x")
	assert.Equal(t, "ftp://nowhere/x", err.Fields["url"])
	assert.Equal(t, 2, procerrors.MaxRetries("vid-2", 2).Fields["retries"])
}
