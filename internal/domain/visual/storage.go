package visual

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// ByteRange is an inclusive byte range. A nil End reads to the end of the object.
type ByteRange struct {
	Start int64
	End   *int64
}

// Length returns the number of bytes the range covers within an object of the given size.
func (r ByteRange) Length(total int64) int64 {
	end := total - 1
	if r.End != nil && *r.End < end {
		end = *r.End
	}
	if end < r.Start {
		return 0
	}
	return end - r.Start + 1
}

// StoredFile is the outcome of a write to a backend.
type StoredFile struct {
	MD5    string
	Format VisualFormat
}

// FileStream is a readable format body, optionally restricted to a byte range.
type FileStream struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	TotalSize     int64
	Range         *ByteRange
}

// Storage is implemented by every physical backend holding visual bytes.
type Storage interface {
	// Scheme is the URL prefix of every storageLocation the backend writes, e.g. "s3://".
	Scheme() string
	AddFile(ctx context.Context, localPath, binderID string, id Identifier, mime string, formatType FormatType) (*StoredFile, error)
	GetLocalCopy(ctx context.Context, v *Visual, formatType FormatType) (string, error)
	// StorageURL returns a URL an external system (the transcoder) can read the format from.
	StorageURL(ctx context.Context, v *Visual, formatType FormatType) (string, error)
	SendFile(ctx context.Context, v *Visual, formatType FormatType, rng *ByteRange) (*FileStream, error)
	// CreateOutputAsset prepares the container derived renditions are written to and returns its key.
	CreateOutputAsset(ctx context.Context, binderID string, id Identifier, formatType FormatType) (string, error)
}

// URLMatcher is implemented by backends sharing a scheme with other backends. Such a backend only
// owns URLs for which MatchesURL is true.
type URLMatcher interface {
	MatchesURL(storageLocation string) bool
}

// Router picks the backend owning a format for reads and the default backend for writes.
type Router interface {
	SelectBackend(ctx context.Context, binderID string, id Identifier, formatType FormatType) (Storage, error)
	BackendFor(v *Visual, formatType FormatType) (Storage, error)
	ForWrite(kind Kind) Storage
	Backends() []Storage
}

// WithLocalCopy downloads a format to a temporary file, runs fn on it and removes the file.
func WithLocalCopy(ctx context.Context, s Storage, v *Visual, formatType FormatType, fn func(path string) error) error {
	path, err := s.GetLocalCopy(ctx, v, formatType)
	if err != nil {
		return err
	}
	defer os.Remove(path)
	return fn(path)
}

// StripScheme returns the location without the backend scheme prefix.
func StripScheme(storageLocation, scheme string) (string, error) {
	if !strings.HasPrefix(storageLocation, scheme) {
		return "", fmt.Errorf("storage location %q does not use scheme %q", storageLocation, scheme)
	}
	return strings.TrimPrefix(storageLocation, scheme), nil
}

// SplitLocation splits "container/path/to/object" into its container and object key.
func SplitLocation(rest string) (container, key string, err error) {
	container, key, ok := strings.Cut(strings.TrimPrefix(rest, "/"), "/")
	if !ok || container == "" || key == "" {
		return "", "", fmt.Errorf("malformed storage location %q", rest)
	}
	return container, key, nil
}
