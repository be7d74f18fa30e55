package visual

import (
	"context"
	"crypto/md5"
	"encoding/hex"
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
	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/utils/platformerrors"
)

var allowedMIMEs = map[string]string{
	"image/jpeg":       "jpg",
	"image/png":        "png",
	"image/webp":       "webp",
	"image/gif":        "gif",
	"image/bmp":        "bmp",
	"image/tiff":       "tiff",
	"image/svg+xml":    "svg",
	"video/mp4":        "mp4",
	"video/quicktime":  "mov",
	"video/webm":       "webm",
	"video/x-matroska": "mkv",
	"video/x-msvideo":  "avi",
	"video/mpeg":       "mpeg",
}

// ExtensionFor returns the canonical extension of a supported MIME type.
func ExtensionFor(mime string) (string, bool) {
	ext, ok := allowedMIMEs[mime]
	return ext, ok
}

// Processor runs derivation work for a freshly stored visual. It takes ownership of localPath
// unless it returns an error; a failed submission must leave the visual recoverable by the stale
// job sweep.
type Processor interface {
	SubmitProcessing(ctx context.Context, v *Visual, localPath, accountID string) error
}

// UploadRequest carries an incoming upload.
type UploadRequest struct {
	BinderID  string
	Filename  string
	CommentID string
	AccountID string
	Body      io.Reader
}

// Service handles ingest, duplication and delivery lookups.
type Service struct {
	cfg       *config.Config
	repo      Repository
	router    Router
	processor Processor
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(cfg *config.Config, repo Repository, router Router, processor Processor, log zerolog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		repo:      repo,
		router:    router,
		processor: processor,
		log:       log.With().Str("component", "visual-service").Logger(),
		now:       time.Now,
	}
}

// Upload stores the ORIGINAL of a new visual and submits it for processing. The bool is true when
// an existing visual with the same content was returned instead.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Visual, bool, error) {
	if strings.TrimSpace(req.BinderID) == "" {
		return nil, false, procerrors.Validation("binder id is required")
	}

	path, sum, size, err := s.spool(req.Body)
	if err != nil {
		return nil, false, err
	}
	owned := true
	defer func() {
		if owned {
			_ = os.Remove(path)
		}
	}()

	if size == 0 {
		return nil, false, procerrors.Validation("file is empty")
	}
	if size > s.cfg.MaxUploadBytes {
		return nil, false, procerrors.Validation(fmt.Sprintf("file exceeds max size of %d bytes", s.cfg.MaxUploadBytes))
	}

	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("detect mime type: %w", err)
	}
	mime, _, _ := strings.Cut(detected.String(), ";")
	ext, ok := allowedMIMEs[mime]
	if !ok {
		return nil, false, procerrors.Validation(fmt.Sprintf("unsupported mime type %s", mime))
	}

	if existing, err := s.findSameContent(ctx, req.BinderID, sum, req.CommentID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, true, nil
	}

	id := GenerateIdentifier(mime)
	backend := s.router.ForWrite(id.Kind())
	stored, err := backend.AddFile(ctx, path, req.BinderID, id, mime, FormatOriginal)
	if err != nil {
		return nil, false, err
	}
	stored.Format.Size = size

	usage := UsageDocument
	if req.CommentID != "" {
		usage = UsageReaderComment
	}
	v := &Visual{
		ID:        id,
		BinderID:  req.BinderID,
		Filename:  filenameOrDefault(req.Filename, id, ext),
		Extension: ext,
		MD5:       sum,
		Mime:      mime,
		Status:    StatusAccepted,
		Usage:     usage,
		CommentID: req.CommentID,
		AccountID: req.AccountID,
		Created:   s.now().UTC(),
		Formats:   []VisualFormat{stored.Format},
	}

	if err := s.repo.Create(ctx, v); err != nil {
		if platformerrors.IsErrorType(err, platformerrors.ErrorTypeConflict) {
			existing, findErr := s.findSameContent(ctx, req.BinderID, sum, req.CommentID)
			if findErr != nil {
				return nil, false, findErr
			}
			if existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}

	if err := s.processor.SubmitProcessing(ctx, v, path, req.AccountID); err != nil {
		s.log.Error().Err(err).Str("visual_id", id.String()).Str("binder_id", v.BinderID).Msg("failed to submit visual for processing; left for the stale job sweep")
		return v, false, nil
	}
	owned = false

	s.log.Info().
		Str("visual_id", id.String()).
		Str("binder_id", v.BinderID).
		Str("mime", mime).
		Int64("bytes", size).
		Msg("visual accepted")
	return v, false, nil
}

// findSameContent returns the visual holding the (binderId, md5, commentId) key, restoring it
// when it was soft-deleted.
func (s *Service) findSameContent(ctx context.Context, binderID, sum, commentID string) (*Visual, error) {
	matches, err := s.repo.Find(ctx, Filter{
		BinderID:       binderID,
		MD5:            sum,
		CommentID:      &commentID,
		IncludeDeleted: true,
		Limit:          1,
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	existing := matches[0]
	if existing.DeletedAt == nil {
		return existing, nil
	}
	restored, err := s.repo.Restore(ctx, binderID, existing.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("visual_id", restored.ID.String()).Str("binder_id", binderID).Msg("restored soft-deleted visual")
	return restored, nil
}

func (s *Service) spool(body io.Reader) (path, sum string, size int64, err error) {
	if body == nil {
		return "", "", 0, procerrors.Validation("file is required")
	}
	file, err := os.CreateTemp(s.cfg.UploadTempDir, "visual-upload-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("create upload file: %w", err)
	}
	defer file.Close()

	hash := md5.New()
	size, err = io.Copy(io.MultiWriter(file, hash), io.LimitReader(body, s.cfg.MaxUploadBytes+1))
	if err != nil {
		_ = os.Remove(file.Name())
		return "", "", 0, fmt.Errorf("spool upload: %w", err)
	}
	return file.Name(), hex.EncodeToString(hash.Sum(nil)), size, nil
}

func filenameOrDefault(name string, id Identifier, ext string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return id.String() + "." + ext
	}
	return name
}

// Get returns a live visual.
func (s *Service) Get(ctx context.Context, binderID string, id Identifier) (*Visual, error) {
	return s.repo.Get(ctx, binderID, id)
}

// Duplicate creates a visual in targetBinderID sharing the bytes and formats of the source. The
// copy always points at the canonical original, never at another duplicate.
func (s *Service) Duplicate(ctx context.Context, sourceBinderID string, sourceID Identifier, targetBinderID string) (*Visual, error) {
	if strings.TrimSpace(targetBinderID) == "" {
		return nil, procerrors.Validation("target binder id is required")
	}
	source, err := s.repo.Get(ctx, sourceBinderID, sourceID)
	if err != nil {
		return nil, err
	}

	ref := OriginalVisualData{BinderID: source.BinderID, VisualID: source.ID}
	if source.OriginalVisualData != nil {
		ref = *source.OriginalVisualData
	}
	if ref.BinderID == targetBinderID && ref.VisualID == sourceID && source.OriginalVisualData == nil {
		return nil, procerrors.Validation("cannot duplicate a visual into its own binder")
	}

	existing, err := s.findSameContent(ctx, targetBinderID, source.MD5, "")
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	dup := &Visual{
		ID:                 GenerateIdentifier(source.Mime),
		BinderID:           targetBinderID,
		Filename:           source.Filename,
		Extension:          source.Extension,
		MD5:                source.MD5,
		Mime:               source.Mime,
		Status:             source.Status,
		Usage:              UsageDocument,
		AccountID:          source.AccountID,
		Created:            s.now().UTC(),
		Formats:            append([]VisualFormat(nil), source.Formats...),
		OriginalVisualData: &ref,
		AudioEnabled:       source.AudioEnabled,
		Rotation:           source.Rotation,
		Fit:                source.Fit,
		LanguageCodes:      append([]string(nil), source.LanguageCodes...),
	}
	if source.StreamingInfo != nil {
		info := *source.StreamingInfo
		dup.StreamingInfo = &info
	}

	if err := s.repo.Create(ctx, dup); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("visual_id", dup.ID.String()).
		Str("binder_id", targetBinderID).
		Str("original_visual_id", ref.VisualID.String()).
		Msg("visual duplicated")
	return dup, nil
}

// OpenFormat streams a stored format from whichever backend owns it.
func (s *Service) OpenFormat(ctx context.Context, binderID string, id Identifier, formatType FormatType, rng *ByteRange) (*FileStream, error) {
	v, err := s.repo.Get(ctx, binderID, id)
	if err != nil {
		return nil, err
	}
	if !v.HasFormat(formatType) {
		return nil, procerrors.NotFound(id.String(), fmt.Sprintf("format %s", formatType))
	}
	backend, err := s.router.BackendFor(v, formatType)
	if err != nil {
		return nil, err
	}
	return backend.SendFile(ctx, v, formatType, rng)
}

// Delete soft-deletes visuals of a binder.
func (s *Service) Delete(ctx context.Context, binderID string, ids ...Identifier) error {
	if len(ids) == 0 {
		return errors.New("no visual ids given")
	}
	return s.repo.SoftDelete(ctx, binderID, ids)
}
