package storage

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/infrastructure/metrics"
)

var errBackendDisabled = errors.New("storage backend is not configured")

// objectName is the name a format is stored under inside its container.
func objectName(formatType visual.FormatType, ext string) string {
	name := strings.ToLower(string(formatType))
	if ext == "" {
		return name
	}
	return name + "." + strings.TrimPrefix(ext, ".")
}

// extensionFor prefers the canonical extension of the MIME type and falls back to the local file's.
func extensionFor(mime, localPath string) string {
	if ext, ok := visual.ExtensionFor(mime); ok {
		return ext
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(localPath)), ".")
}

// objectKey places a format under its binder and visual.
func objectKey(binderID string, id visual.Identifier, name string) string {
	return strings.Join([]string{binderID, id.String(), name}, "/")
}

func fileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// tempFileFor creates the temp file a local copy is downloaded into.
func tempFileFor(v *visual.Visual, formatType visual.FormatType) (*os.File, error) {
	pattern := fmt.Sprintf("%s-%s-*", v.ID.String(), strings.ToLower(string(formatType)))
	if v.Extension != "" {
		pattern += "." + v.Extension
	}
	return os.CreateTemp("", pattern)
}

// copyToTemp drains body into a fresh temp file and returns its path.
func copyToTemp(v *visual.Visual, formatType visual.FormatType, body io.Reader) (string, error) {
	f, err := tempFileFor(v, formatType)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func formatLocation(v *visual.Visual, formatType visual.FormatType, scheme string) (string, error) {
	f, ok := v.Format(formatType)
	if !ok {
		return "", fmt.Errorf("visual %s has no %s format", v.ID, formatType)
	}
	return visual.StripScheme(f.StorageLocation, scheme)
}

// rangeHeader renders an HTTP Range header value.
func rangeHeader(rng *visual.ByteRange) string {
	if rng == nil {
		return ""
	}
	if rng.End == nil {
		return fmt.Sprintf("bytes=%d-", rng.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", rng.Start, *rng.End)
}

// totalFromContentRange extracts the object size from "bytes 0-99/1000".
func totalFromContentRange(contentRange string) int64 {
	_, total, ok := strings.Cut(contentRange, "/")
	if !ok || total == "*" {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// observe records the outcome of a backend operation. Call it deferred with a pointer to the
// named error result.
func observe(scheme, operation string, start time.Time, err *error) {
	status := "success"
	if err != nil && *err != nil {
		status = "error"
	}
	metrics.RecordStorageOperation(strings.TrimSuffix(scheme, "://"), operation, status, time.Since(start).Seconds())
}
