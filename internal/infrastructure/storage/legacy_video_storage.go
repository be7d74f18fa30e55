package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/config"
	"jan-server/services/visual-api/internal/domain/visual"
)

const (
	legacyVideoScheme = "legacy-video://"
	// legacyContainerPrefix names the per-visual directories of the legacy layout.
	legacyContainerPrefix = "asset-"
)

// LegacyVideoStorage serves videos uploaded before the v2 backend existed. They live on a
// filesystem share in one "asset-{id}" directory per visual.
type LegacyVideoStorage struct {
	basePath string
	baseURL  string
	log      zerolog.Logger
	disabled bool
}

// NewLegacyVideoStorage creates the legacy video backend. Without LEGACY_VIDEO_PATH every
// operation fails, but the backend still claims its scheme so such URLs never fall through.
func NewLegacyVideoStorage(cfg *config.Config, log zerolog.Logger) (*LegacyVideoStorage, error) {
	logger := log.With().Str("component", "legacy-video-storage").Logger()

	basePath := strings.TrimSpace(cfg.LegacyVideoPath)
	if basePath == "" {
		logger.Warn().Msg("LEGACY_VIDEO_PATH is not set; legacy video storage will be disabled")
		return &LegacyVideoStorage{log: logger, disabled: true}, nil
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create legacy video directory: %w", err)
	}

	storage := &LegacyVideoStorage{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(strings.TrimSpace(cfg.LegacyVideoBaseURL), "/"),
		log:      logger,
	}

	logger.Info().
		Str("path", basePath).
		Str("base_url", storage.baseURL).
		Msg("legacy video storage initialized")

	return storage, nil
}

func (l *LegacyVideoStorage) ensureEnabled() error {
	if l.disabled {
		return fmt.Errorf("legacy video: %w", errBackendDisabled)
	}
	return nil
}

func (l *LegacyVideoStorage) Scheme() string { return legacyVideoScheme }

func legacyContainer(id visual.Identifier) string {
	return legacyContainerPrefix + id.String()
}

// fullPath resolves a format to its file, refusing paths that escape the share.
func (l *LegacyVideoStorage) fullPath(v *visual.Visual, formatType visual.FormatType) (string, string, error) {
	rest, err := formatLocation(v, formatType, legacyVideoScheme)
	if err != nil {
		return "", "", err
	}
	container, name, err := visual.SplitLocation(rest)
	if err != nil {
		return "", "", err
	}
	full := filepath.Join(l.basePath, container, filepath.FromSlash(name))
	if !strings.HasPrefix(full, filepath.Clean(l.basePath)+string(filepath.Separator)) {
		return "", "", fmt.Errorf("storage location %q escapes the legacy share", rest)
	}
	return full, container + "/" + name, nil
}

func (l *LegacyVideoStorage) AddFile(ctx context.Context, localPath, _ string, id visual.Identifier, mime string, formatType visual.FormatType) (_ *visual.StoredFile, err error) {
	defer observe(legacyVideoScheme, "add_file", time.Now(), &err)
	if err := l.ensureEnabled(); err != nil {
		return nil, err
	}

	container := legacyContainer(id)
	name := objectName(formatType, extensionFor(mime, localPath))
	full := filepath.Join(l.basePath, container, name)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dst, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	written, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	sum, _, err := fileDigest(full)
	if err != nil {
		return nil, err
	}

	l.log.Debug().
		Str("container", container).
		Int64("bytes", written).
		Msg("file stored in legacy video storage")

	return &visual.StoredFile{
		MD5: sum,
		Format: visual.VisualFormat{
			FormatType:      formatType,
			Size:            written,
			StorageLocation: legacyVideoScheme + container + "/" + name,
			Container:       container,
		},
	}, nil
}

func (l *LegacyVideoStorage) GetLocalCopy(ctx context.Context, v *visual.Visual, formatType visual.FormatType) (_ string, err error) {
	defer observe(legacyVideoScheme, "get_local_copy", time.Now(), &err)
	if err := l.ensureEnabled(); err != nil {
		return "", err
	}
	full, _, err := l.fullPath(v, formatType)
	if err != nil {
		return "", err
	}
	file, err := l.open(full)
	if err != nil {
		return "", err
	}
	defer file.Close()
	return copyToTemp(v, formatType, file)
}

// StorageURL returns the public URL of the file under LEGACY_VIDEO_BASE_URL, or a file:// URL
// when no base URL is configured.
func (l *LegacyVideoStorage) StorageURL(_ context.Context, v *visual.Visual, formatType visual.FormatType) (string, error) {
	if err := l.ensureEnabled(); err != nil {
		return "", err
	}
	full, rel, err := l.fullPath(v, formatType)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); os.IsNotExist(err) {
		return "", fmt.Errorf("file not found: %s", rel)
	}
	if l.baseURL != "" {
		return l.baseURL + "/" + rel, nil
	}
	return "file://" + full, nil
}

func (l *LegacyVideoStorage) SendFile(ctx context.Context, v *visual.Visual, formatType visual.FormatType, rng *visual.ByteRange) (_ *visual.FileStream, err error) {
	defer observe(legacyVideoScheme, "send_file", time.Now(), &err)
	if err := l.ensureEnabled(); err != nil {
		return nil, err
	}
	full, _, err := l.fullPath(v, formatType)
	if err != nil {
		return nil, err
	}
	file, err := l.open(full)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	stream := &visual.FileStream{
		Body:          file,
		ContentType:   detectContentType(full),
		ContentLength: info.Size(),
		TotalSize:     info.Size(),
		Range:         rng,
	}
	if rng != nil {
		if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
			file.Close()
			return nil, err
		}
		stream.ContentLength = rng.Length(info.Size())
		stream.Body = limitedReadCloser{Reader: io.LimitReader(file, stream.ContentLength), Closer: file}
	}
	return stream, nil
}

// CreateOutputAsset creates the visual's asset directory.
func (l *LegacyVideoStorage) CreateOutputAsset(_ context.Context, _ string, id visual.Identifier, _ visual.FormatType) (string, error) {
	if err := l.ensureEnabled(); err != nil {
		return "", err
	}
	container := legacyContainer(id)
	if err := os.MkdirAll(filepath.Join(l.basePath, container), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	return container, nil
}

func (l *LegacyVideoStorage) open(full string) (*os.File, error) {
	file, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %s", filepath.Base(full))
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

// detectContentType sniffs the file header and falls back to octet-stream.
func detectContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}
