package visual_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jan-server/services/visual-api/internal/config"
	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/infrastructure/repository/visualrepo"
)

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (s *memoryStorage) Scheme() string { return "mem://" }

func (s *memoryStorage) AddFile(_ context.Context, localPath, binderID string, id visual.Identifier, mime string, formatType visual.FormatType) (*visual.StoredFile, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	location := "mem://" + binderID + "/" + id.String() + "/" + string(formatType)
	s.mu.Lock()
	s.objects[location] = data
	s.mu.Unlock()
	return &visual.StoredFile{Format: visual.VisualFormat{FormatType: formatType, StorageLocation: location}}, nil
}

func (s *memoryStorage) GetLocalCopy(context.Context, *visual.Visual, visual.FormatType) (string, error) {
	return "", nil
}

func (s *memoryStorage) StorageURL(context.Context, *visual.Visual, visual.FormatType) (string, error) {
	return "", nil
}

func (s *memoryStorage) SendFile(_ context.Context, v *visual.Visual, formatType visual.FormatType, rng *visual.ByteRange) (*visual.FileStream, error) {
	f, ok := v.Format(formatType)
	if !ok {
		return nil, procerrors.NotFound(v.ID.String(), "format")
	}
	s.mu.Lock()
	data := s.objects[f.StorageLocation]
	s.mu.Unlock()
	total := int64(len(data))
	body := data
	if rng != nil {
		body = data[rng.Start : rng.Start+rng.Length(total)]
	}
	return &visual.FileStream{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentType:   v.Mime,
		ContentLength: int64(len(body)),
		TotalSize:     total,
		Range:         rng,
	}, nil
}

func (s *memoryStorage) CreateOutputAsset(context.Context, string, visual.Identifier, visual.FormatType) (string, error) {
	return "out", nil
}

type singleRouter struct {
	backend visual.Storage
}

func (r singleRouter) SelectBackend(context.Context, string, visual.Identifier, visual.FormatType) (visual.Storage, error) {
	return r.backend, nil
}
func (r singleRouter) BackendFor(*visual.Visual, visual.FormatType) (visual.Storage, error) {
	return r.backend, nil
}
func (r singleRouter) ForWrite(visual.Kind) visual.Storage { return r.backend }
func (r singleRouter) Backends() []visual.Storage          { return []visual.Storage{r.backend} }

type recordingProcessor struct {
	mu        sync.Mutex
	submitted []string
	paths     []string
}

func (p *recordingProcessor) SubmitProcessing(_ context.Context, v *visual.Visual, localPath, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, v.ID.String())
	p.paths = append(p.paths, localPath)
	return nil
}

type refusingProcessor struct {
	recordingProcessor
	err error
}

func (p *refusingProcessor) SubmitProcessing(ctx context.Context, v *visual.Visual, localPath, accountID string) error {
	_ = p.recordingProcessor.SubmitProcessing(ctx, v, localPath, accountID)
	return p.err
}

type serviceFixture struct {
	svc       *visual.Service
	repo      *visualrepo.InMemoryRepository
	storage   *memoryStorage
	processor *recordingProcessor
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	repo := visualrepo.NewInMemoryRepository()
	storage := newMemoryStorage()
	processor := &recordingProcessor{}
	cfg := &config.Config{MaxUploadBytes: 1 << 20, UploadTempDir: t.TempDir()}
	return &serviceFixture{
		svc:       visual.NewService(cfg, repo, singleRouter{backend: storage}, processor, zerolog.Nop()),
		repo:      repo,
		storage:   storage,
		processor: processor,
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestService_UploadStoresOriginalAndSubmits(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	v, existing, err := f.svc.Upload(ctx, visual.UploadRequest{
		BinderID:  "binder-1",
		Filename:  "../../photo.png",
		AccountID: "acc-1",
		Body:      bytes.NewReader(pngBytes(t, 20, 10)),
	})
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, "image/png", v.Mime)
	assert.Equal(t, "png", v.Extension)
	assert.Equal(t, "photo.png", v.Filename)
	assert.Equal(t, visual.StatusAccepted, v.Status)
	assert.Equal(t, visual.UsageDocument, v.Usage)
	require.Len(t, v.Formats, 1)
	assert.Equal(t, visual.FormatOriginal, v.Formats[0].FormatType)
	assert.Positive(t, v.Formats[0].Size)

	stored, err := f.repo.Get(ctx, "binder-1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.MD5, stored.MD5)

	require.Equal(t, []string{v.ID.String()}, f.processor.submitted)
	_, statErr := os.Stat(f.processor.paths[0])
	assert.NoError(t, statErr, "processor owns the spooled file")
}

func TestService_UploadReturnsExistingForSameContent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	data := pngBytes(t, 8, 8)

	first, _, err := f.svc.Upload(ctx, visual.UploadRequest{BinderID: "binder-1", Body: bytes.NewReader(data)})
	require.NoError(t, err)

	second, existing, err := f.svc.Upload(ctx, visual.UploadRequest{BinderID: "binder-1", Body: bytes.NewReader(data)})
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.processor.submitted, 1)

	comment, existing, err := f.svc.Upload(ctx, visual.UploadRequest{BinderID: "binder-1", CommentID: "c-1", Body: bytes.NewReader(data)})
	require.NoError(t, err)
	assert.False(t, existing)
	assert.NotEqual(t, first.ID, comment.ID)
	assert.Equal(t, visual.UsageReaderComment, comment.Usage)
}

func TestService_UploadRestoresSoftDeleted(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	data := pngBytes(t, 8, 8)

	first, _, err := f.svc.Upload(ctx, visual.UploadRequest{BinderID: "binder-1", Body: bytes.NewReader(data)})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, "binder-1", first.ID))
	_, err = f.svc.Get(ctx, "binder-1", first.ID)
	require.Error(t, err)

	again, existing, err := f.svc.Upload(ctx, visual.UploadRequest{BinderID: "binder-1", Body: bytes.NewReader(data)})
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, first.ID, again.ID)
	assert.Nil(t, again.DeletedAt)
}

func TestService_UploadValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  visual.UploadRequest
	}{
		{"missing binder", visual.UploadRequest{Body: strings.NewReader("x")}},
		{"missing body", visual.UploadRequest{BinderID: "b"}},
		{"empty file", visual.UploadRequest{BinderID: "b", Body: strings.NewReader("")}},
		{"unsupported type", visual.UploadRequest{BinderID: "b", Body: strings.NewReader("just some plain text")}},
		{"too large", visual.UploadRequest{BinderID: "b", Body: bytes.NewReader(make([]byte, (1<<20)+1))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.Upload(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, procerrors.IsKind(err, procerrors.KindValidation))
		})
	}
	assert.Empty(t, f.processor.submitted)
}

func TestService_DuplicatePointsAtCanonicalOriginal(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	source, _, err := f.svc.Upload(ctx, visual.UploadRequest{BinderID: "binder-a", Body: bytes.NewReader(pngBytes(t, 4, 4))})
	require.NoError(t, err)

	dup, err := f.svc.Duplicate(ctx, "binder-a", source.ID, "binder-b")
	require.NoError(t, err)
	assert.NotEqual(t, source.ID, dup.ID)
	assert.Equal(t, "binder-b", dup.BinderID)
	require.NotNil(t, dup.OriginalVisualData)
	assert.Equal(t, source.ID, dup.OriginalVisualData.VisualID)
	assert.Equal(t, source.Formats, dup.Formats)

	dupOfDup, err := f.svc.Duplicate(ctx, "binder-b", dup.ID, "binder-c")
	require.NoError(t, err)
	assert.Equal(t, "binder-a", dupOfDup.OriginalVisualData.BinderID)
	assert.Equal(t, source.ID, dupOfDup.OriginalVisualData.VisualID)

	again, err := f.svc.Duplicate(ctx, "binder-a", source.ID, "binder-b")
	require.NoError(t, err)
	assert.Equal(t, dup.ID, again.ID)

	_, err = f.svc.Duplicate(ctx, "binder-a", source.ID, "binder-a")
	assert.True(t, procerrors.IsKind(err, procerrors.KindValidation))
}

func TestService_OpenFormat(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	data := pngBytes(t, 16, 16)

	v, _, err := f.svc.Upload(ctx, visual.UploadRequest{BinderID: "binder-1", Body: bytes.NewReader(data)})
	require.NoError(t, err)

	end := int64(3)
	stream, err := f.svc.OpenFormat(ctx, "binder-1", v.ID, visual.FormatOriginal, &visual.ByteRange{Start: 0, End: &end})
	require.NoError(t, err)
	defer stream.Body.Close()
	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, data[:4], body)
	assert.Equal(t, int64(len(data)), stream.TotalSize)

	_, err = f.svc.OpenFormat(ctx, "binder-1", v.ID, visual.FormatThumbnail, nil)
	assert.True(t, procerrors.IsKind(err, procerrors.KindNotFound))
}

func TestService_UploadSurvivesRefusedSubmission(t *testing.T) {
	repo := visualrepo.NewInMemoryRepository()
	processor := &refusingProcessor{err: errors.New("queue full")}
	cfg := &config.Config{MaxUploadBytes: 1 << 20, UploadTempDir: t.TempDir()}
	svc := visual.NewService(cfg, repo, singleRouter{backend: newMemoryStorage()}, processor, zerolog.Nop())
	ctx := context.Background()

	v, existing, err := svc.Upload(ctx, visual.UploadRequest{BinderID: "binder-1", AccountID: "acc-1", Body: bytes.NewReader(pngBytes(t, 8, 8))})
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, visual.StatusAccepted, v.Status)
	require.Equal(t, []string{v.ID.String()}, processor.submitted)

	stored, err := repo.Get(ctx, "binder-1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, visual.FormatOriginal, stored.Formats[0].FormatType, "ORIGINAL stays stored for later processing")

	_, statErr := os.Stat(processor.paths[0])
	assert.True(t, os.IsNotExist(statErr), "spooled file is removed when the processor refuses it")
}
