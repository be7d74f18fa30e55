package processing

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/job"
	"jan-server/services/visual-api/internal/domain/notification"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/infrastructure/repository/jobrepo"
	"jan-server/services/visual-api/internal/infrastructure/repository/visualrepo"
	"jan-server/services/visual-api/internal/worker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeStorage struct {
	scheme string
	mu     sync.Mutex
	added  []visual.FormatType
	copies int
}

func (s *fakeStorage) Scheme() string { return s.scheme }

func (s *fakeStorage) AddFile(_ context.Context, _ string, _ string, id visual.Identifier, _ string, formatType visual.FormatType) (*visual.StoredFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, formatType)
	return &visual.StoredFile{
		MD5: "md5",
		Format: visual.VisualFormat{
			FormatType:      formatType,
			StorageLocation: s.scheme + "bucket/" + id.String() + "/" + strings.ToLower(string(formatType)),
			Container:       id.String(),
			Size:            10,
		},
	}, nil
}

func (s *fakeStorage) GetLocalCopy(context.Context, *visual.Visual, visual.FormatType) (string, error) {
	s.mu.Lock()
	s.copies++
	s.mu.Unlock()
	f, err := os.CreateTemp("", "fake-copy-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	_, err = f.WriteString("bytes")
	return f.Name(), err
}

func (s *fakeStorage) StorageURL(_ context.Context, v *visual.Visual, formatType visual.FormatType) (string, error) {
	return "https://storage.test/" + v.ID.String() + "/" + string(formatType), nil
}

func (s *fakeStorage) SendFile(context.Context, *visual.Visual, visual.FormatType, *visual.ByteRange) (*visual.FileStream, error) {
	return nil, nil
}

func (s *fakeStorage) CreateOutputAsset(_ context.Context, _ string, id visual.Identifier, _ visual.FormatType) (string, error) {
	return id.String(), nil
}

func (s *fakeStorage) addedFormats() []visual.FormatType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]visual.FormatType(nil), s.added...)
}

type fakeRouter struct {
	image, video, legacy *fakeStorage
}

func (r *fakeRouter) BackendFor(v *visual.Visual, formatType visual.FormatType) (visual.Storage, error) {
	if f, ok := v.Format(formatType); ok {
		for _, s := range []*fakeStorage{r.legacy, r.video, r.image} {
			if strings.HasPrefix(f.StorageLocation, s.scheme) {
				return s, nil
			}
		}
		return nil, procerrors.NoMatchingBackend(f.StorageLocation)
	}
	return r.ForWrite(v.ID.Kind()), nil
}

func (r *fakeRouter) SelectBackend(context.Context, string, visual.Identifier, visual.FormatType) (visual.Storage, error) {
	return nil, nil
}

func (r *fakeRouter) ForWrite(kind visual.Kind) visual.Storage {
	if kind == visual.KindVideo {
		return r.video
	}
	return r.image
}

func (r *fakeRouter) Backends() []visual.Storage {
	return []visual.Storage{r.image, r.video, r.legacy}
}

type fakeVideoHandler struct {
	mu sync.Mutex

	screenshotErrs  []error
	screenshotCalls int
	screenshotSeen  []string

	transcodeStates []visual.TranscodeState
	transcodeErr    error
	transcodeCalls  int
	transcodeSeen   []string
	waitCalls       []visual.TranscodeState
}

func (h *fakeVideoHandler) GetMetadata(context.Context, string) (*visual.Metadata, error) {
	return &visual.Metadata{Mime: "video/mp4", Width: 1920, Height: 1080, Duration: 42, Codec: "h264", HasAudio: true}, nil
}

func (h *fakeVideoHandler) Resize(context.Context, string, *visual.Metadata, visual.FormatType) (string, bool, error) {
	return "", false, nil
}

func (h *fakeVideoHandler) Screenshots(_ context.Context, v *visual.Visual, req visual.TranscodeRequest) ([]visual.VisualFormat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.screenshotCalls++
	h.screenshotSeen = append(h.screenshotSeen, v.ID.String())
	if len(h.screenshotErrs) > 0 {
		err := h.screenshotErrs[0]
		if len(h.screenshotErrs) > 1 {
			h.screenshotErrs = h.screenshotErrs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	at := 1.0
	return []visual.VisualFormat{{
		FormatType:       visual.FormatVideoScreenshot,
		StorageLocation:  "video-v2://videos/" + req.OutputContainer + "/screenshot.jpg",
		KeyFramePosition: &at,
	}}, nil
}

func (h *fakeVideoHandler) Transcode(ctx context.Context, v *visual.Visual, _ visual.TranscodeRequest, progress visual.ProgressFunc) (*visual.TranscodeResult, error) {
	h.mu.Lock()
	h.transcodeCalls++
	h.transcodeSeen = append(h.transcodeSeen, v.ID.String())
	states, err := h.transcodeStates, h.transcodeErr
	h.mu.Unlock()

	for _, state := range states {
		if perr := progress(ctx, state); perr != nil {
			return nil, perr
		}
	}
	if err != nil {
		return nil, err
	}
	return transcodeResult(v), nil
}

func (h *fakeVideoHandler) WaitToCompleteTranscode(ctx context.Context, v *visual.Visual, state visual.TranscodeState, progress visual.ProgressFunc) (*visual.TranscodeResult, error) {
	h.mu.Lock()
	h.waitCalls = append(h.waitCalls, state)
	err := h.transcodeErr
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return transcodeResult(v), nil
}

func transcodeResult(v *visual.Visual) *visual.TranscodeResult {
	return &visual.TranscodeResult{
		StreamingInfo: &visual.StreamingInfo{
			ManifestPaths:     []string{"streaming/" + v.ID.String() + "/master.m3u8"},
			StreamingHostname: "https://acct.blob.test",
		},
		Formats: []visual.VisualFormat{
			{FormatType: visual.FormatVideoHD, Width: 1280, Height: 720, Codec: "h264", Duration: 42, StorageLocation: "video-v2://videos/" + v.ID.String() + "/hd.mp4"},
			{FormatType: visual.FormatVideoSD, Width: 640, Height: 360, Codec: "h264", Duration: 42, StorageLocation: "video-v2://videos/" + v.ID.String() + "/sd.mp4"},
		},
	}
}

type fakeImageHandler struct {
	metadataErr error
	resized     []visual.FormatType
}

func (h *fakeImageHandler) GetMetadata(context.Context, string) (*visual.Metadata, error) {
	if h.metadataErr != nil {
		return nil, h.metadataErr
	}
	return &visual.Metadata{Mime: "image/png", Width: 1000, Height: 750}, nil
}

func (h *fakeImageHandler) Resize(_ context.Context, _ string, metadata *visual.Metadata, formatType visual.FormatType) (string, bool, error) {
	size, _ := visual.SizeFor(formatType)
	if metadata.Width <= size.MaxWidth && metadata.Height <= size.MaxHeight {
		return "", false, nil
	}
	f, err := os.CreateTemp("", "fake-resize-*")
	if err != nil {
		return "", false, err
	}
	f.Close()
	h.resized = append(h.resized, formatType)
	return f.Name(), true, nil
}

type fakeSelector struct {
	video *fakeVideoHandler
	image *fakeImageHandler
}

func (s *fakeSelector) ForMime(mime string) (visual.Handler, error) {
	if strings.HasPrefix(mime, "video/") {
		return s.video, nil
	}
	return s.image, nil
}

type sentEvent struct {
	target notification.Target
	event  notification.EventType
	data   map[string]any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) Dispatch(_ context.Context, target notification.Target, event notification.EventType, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{target: target, event: event, data: payload})
}

// inlineSubmitter runs tasks synchronously. A non-nil err refuses every task.
type inlineSubmitter struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (s *inlineSubmitter) Submit(ctx context.Context, task worker.Task) error {
	s.mu.Lock()
	s.names = append(s.names, task.Name)
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return task.Run(ctx)
}

// recordingJobs records the job repository calls made through it.
type recordingJobs struct {
	job.Repository
	mu    sync.Mutex
	calls []string
}

func (r *recordingJobs) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recordingJobs) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingJobs) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *recordingJobs) Create(ctx context.Context, j *job.Job) error {
	r.record("Create:" + j.VisualID)
	return r.Repository.Create(ctx, j)
}

func (r *recordingJobs) Transition(ctx context.Context, visualID string, step job.Step, details job.StepDetails, opts job.TransitionOptions) (*job.Job, error) {
	r.record("Transition:" + visualID + ":" + string(step))
	return r.Repository.Transition(ctx, visualID, step, details, opts)
}

func (r *recordingJobs) UpdateStepDetails(ctx context.Context, visualID string, patch job.StepDetails) (*job.Job, error) {
	r.record("UpdateStepDetails:" + visualID)
	return r.Repository.UpdateStepDetails(ctx, visualID, patch)
}

func (r *recordingJobs) Find(ctx context.Context, visualID string) (*job.Job, error) {
	r.record("Find:" + visualID)
	return r.Repository.Find(ctx, visualID)
}

func (r *recordingJobs) Delete(ctx context.Context, visualID string) error {
	r.record("Delete:" + visualID)
	return r.Repository.Delete(ctx, visualID)
}

// trackingVisuals counts visual repository calls and the peak number of concurrent updates.
type trackingVisuals struct {
	visual.Repository
	calls       atomic.Int32
	active      atomic.Int32
	peak        atomic.Int32
	updateDelay time.Duration
	mu          sync.Mutex
	updatedIDs  []string
}

func (t *trackingVisuals) Update(ctx context.Context, binderID string, id visual.Identifier, update visual.Update) (*visual.Visual, error) {
	t.calls.Add(1)
	n := t.active.Add(1)
	defer t.active.Add(-1)
	for {
		peak := t.peak.Load()
		if n <= peak || t.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if t.updateDelay > 0 {
		time.Sleep(t.updateDelay)
	}
	t.mu.Lock()
	t.updatedIDs = append(t.updatedIDs, id.String())
	t.mu.Unlock()
	return t.Repository.Update(ctx, binderID, id, update)
}

func (t *trackingVisuals) Get(ctx context.Context, binderID string, id visual.Identifier) (*visual.Visual, error) {
	t.calls.Add(1)
	return t.Repository.Get(ctx, binderID, id)
}

func (t *trackingVisuals) GetByID(ctx context.Context, id visual.Identifier) (*visual.Visual, error) {
	t.calls.Add(1)
	return t.Repository.GetByID(ctx, id)
}

func (t *trackingVisuals) UpdatedIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.updatedIDs...)
}

type harness struct {
	clock     *fakeClock
	visuals   *trackingVisuals
	store     *visualrepo.InMemoryRepository
	jobs      *recordingJobs
	jobStore  *jobrepo.InMemoryRepository
	router    *fakeRouter
	video     *fakeVideoHandler
	image     *fakeImageHandler
	notifier  *recordingNotifier
	submitter *inlineSubmitter
	o         *Orchestrator
}

func newHarness() *harness {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := visualrepo.NewInMemoryRepository()
	jobStore := jobrepo.NewInMemoryRepository().WithClock(clock.Now)
	h := &harness{
		clock:    clock,
		visuals:  &trackingVisuals{Repository: store},
		store:    store,
		jobs:     &recordingJobs{Repository: jobStore},
		jobStore: jobStore,
		router: &fakeRouter{
			image:  &fakeStorage{scheme: "azure://"},
			video:  &fakeStorage{scheme: "video-v2://"},
			legacy: &fakeStorage{scheme: "legacy-video://"},
		},
		video:     &fakeVideoHandler{},
		image:     &fakeImageHandler{},
		notifier:  &recordingNotifier{},
		submitter: &inlineSubmitter{},
	}
	h.o = NewOrchestrator(
		Config{ScreenshotRetryDelay: time.Millisecond},
		h.visuals,
		h.jobs,
		h.router,
		&fakeSelector{video: h.video, image: h.image},
		h.notifier,
		h.submitter,
		zerolog.Nop(),
	)
	h.o.now = clock.Now
	return h
}

func (h *harness) seedVideo(binderID string) *visual.Visual {
	id := visual.GenerateIdentifier("video/mp4")
	v := &visual.Visual{
		ID:        id,
		BinderID:  binderID,
		Filename:  "clip.mp4",
		Extension: "mp4",
		MD5:       "md5-" + id.String(),
		Mime:      "video/mp4",
		Status:    visual.StatusAccepted,
		AccountID: "acct-1",
		Created:   h.clock.Now(),
		Formats: []visual.VisualFormat{{
			FormatType:      visual.FormatOriginal,
			StorageLocation: "video-v2://videos/" + id.String() + "/original.mp4",
			Container:       id.String(),
		}},
	}
	if err := h.store.Create(context.Background(), v); err != nil {
		panic(err)
	}
	return v
}

func (h *harness) seedImage(binderID string) *visual.Visual {
	id := visual.GenerateIdentifier("image/png")
	v := &visual.Visual{
		ID:        id,
		BinderID:  binderID,
		Filename:  "photo.png",
		Extension: "png",
		MD5:       "md5-" + id.String(),
		Mime:      "image/png",
		Status:    visual.StatusAccepted,
		Created:   h.clock.Now(),
		Formats: []visual.VisualFormat{{
			FormatType:      visual.FormatOriginal,
			StorageLocation: "azure://acct/images/" + binderID + "/" + id.String() + "/original.png",
		}},
	}
	if err := h.store.Create(context.Background(), v); err != nil {
		panic(err)
	}
	return v
}

func (h *harness) seedDuplicate(original *visual.Visual, binderID string) *visual.Visual {
	dup := *original
	dup.ID = visual.GenerateIdentifier(original.Mime)
	dup.BinderID = binderID
	dup.OriginalVisualData = &visual.OriginalVisualData{BinderID: original.BinderID, VisualID: original.ID}
	dup.Formats = append([]visual.VisualFormat(nil), original.Formats...)
	if err := h.store.Create(context.Background(), &dup); err != nil {
		panic(err)
	}
	return &dup
}

func (h *harness) seedJob(visualID string, step job.Step, details job.StepDetails, retries int) {
	ctx := context.Background()
	if err := h.jobStore.Create(ctx, &job.Job{VisualID: visualID, Step: step, AccountID: "acct-1"}); err != nil {
		panic(err)
	}
	for i := 0; i < retries; i++ {
		if _, err := h.jobStore.Transition(ctx, visualID, step, nil, job.TransitionOptions{IncreaseRetryCount: true}); err != nil {
			panic(err)
		}
	}
	if _, err := h.jobStore.Transition(ctx, visualID, step, details, job.TransitionOptions{}); err != nil {
		panic(err)
	}
}

func (h *harness) mustVisual(v *visual.Visual) *visual.Visual {
	got, err := h.store.Get(context.Background(), v.BinderID, v.ID)
	if err != nil {
		panic(err)
	}
	return got
}
