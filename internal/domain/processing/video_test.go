package processing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/job"
	"jan-server/services/visual-api/internal/domain/notification"
	"jan-server/services/visual-api/internal/domain/visual"
)

func TestDoVideoProcessingCompletes(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v := h.seedVideo("binder-1")
	h.video.transcodeStates = []visual.TranscodeState{
		{EncodingID: "enc-1", Progress: 10},
		{EncodingID: "enc-1", ManifestPaths: []string{"streaming/" + v.ID.String() + "/master.m3u8"}, Progress: 80},
	}

	require.NoError(t, h.o.DoVideoProcessing(ctx, v, "", "acct-1", Foreground))

	got := h.mustVisual(v)
	assert.Equal(t, visual.StatusCompleted, got.Status)
	assert.True(t, got.HasFormat(visual.FormatOriginal))
	assert.True(t, got.HasFormat(visual.FormatVideoScreenshot))
	assert.True(t, got.HasFormat(visual.FormatVideoHD))
	assert.True(t, got.HasFormat(visual.FormatVideoSD))
	require.NotNil(t, got.StreamingInfo)
	assert.Equal(t, []string{"streaming/" + v.ID.String() + "/master.m3u8"}, got.StreamingInfo.ManifestPaths)

	_, err := h.jobStore.Find(ctx, v.ID.String())
	assert.Error(t, err, "job is deleted once the visual completes")

	assert.Contains(t, h.jobs.Calls(), "Transition:"+v.ID.String()+":TRANSCODING")
	progressCalls := 0
	for _, call := range h.jobs.Calls() {
		if call == "UpdateStepDetails:"+v.ID.String() {
			progressCalls++
		}
	}
	assert.Equal(t, 3, progressCalls, "screenshot heartbeat plus one per progress report")

	require.Len(t, h.notifier.events, 1)
	assert.Equal(t, notification.AccountTarget("acct-1"), h.notifier.events[0].target)
	assert.Equal(t, notification.EventVideoProcessingEnd, h.notifier.events[0].event)
	assert.Equal(t, v.ID.String(), h.notifier.events[0].data["visualId"])
}

func TestTranscodeProgressIsPersisted(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v := h.seedVideo("binder-1")
	h.video.transcodeStates = []visual.TranscodeState{{EncodingID: "enc-9", ManifestPaths: []string{"m.m3u8"}}}
	h.video.transcodeErr = procerrors.TranscodeTimeout(v.ID.String(), "enc-9")

	err := h.o.DoVideoProcessing(ctx, v, "", "acct-1", Foreground)
	assert.True(t, procerrors.IsKind(err, procerrors.KindTranscodeTimeout))

	stored, err := h.jobStore.Find(ctx, v.ID.String())
	require.NoError(t, err)
	assert.Equal(t, job.StepTranscoding, stored.Step)
	state, err := visual.TranscodeStateFromDetails(stored.StepDetails)
	require.NoError(t, err)
	assert.Equal(t, "enc-9", state.EncodingID)
	assert.Equal(t, []string{"m.m3u8"}, state.ManifestPaths)

	assert.Equal(t, visual.StatusProcessingBackground, h.mustVisual(v).Status, "timeouts leave the status to the caller")
}

func TestTranscodeFailureMarksVisualError(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v := h.seedVideo("binder-1")
	h.video.transcodeErr = procerrors.TranscodeFailed(v.ID.String(), "unsupported codec")

	err := h.o.DoVideoProcessing(ctx, v, "", "acct-1", Foreground)
	assert.True(t, procerrors.IsKind(err, procerrors.KindTranscodeFailed))

	assert.Equal(t, visual.StatusError, h.mustVisual(v).Status)
	_, err = h.jobStore.Find(ctx, v.ID.String())
	assert.Error(t, err, "failed transcodes delete the job")
	assert.Empty(t, h.notifier.events)
}

func TestBackgroundRunLogsErrors(t *testing.T) {
	h := newHarness()
	v := h.seedVideo("binder-1")
	h.video.transcodeErr = errors.New("engine unreachable")

	assert.NoError(t, h.o.DoVideoProcessing(context.Background(), v, "", "acct-1", Background))

	h2 := newHarness()
	v2 := h2.seedVideo("binder-1")
	h2.video.transcodeErr = errors.New("engine unreachable")
	assert.Error(t, h2.o.DoVideoProcessing(context.Background(), v2, "", "acct-1", Foreground))
}

func TestDoVideoProcessingLeavesInProgressJobAlone(t *testing.T) {
	h := newHarness()
	v := h.seedVideo("binder-1")
	h.seedJob(v.ID.String(), job.StepTranscoding, nil, 0)

	require.NoError(t, h.o.DoVideoProcessing(context.Background(), v, "", "acct-1", Foreground))

	assert.Zero(t, h.video.screenshotCalls)
	assert.Zero(t, h.video.transcodeCalls)
	assert.Equal(t, visual.StatusAccepted, h.mustVisual(v).Status)
}

func TestDoVideoProcessingStopsAtMaxRetries(t *testing.T) {
	h := newHarness()
	v := h.seedVideo("binder-1")
	h.seedJob(v.ID.String(), job.StepPreprocessing, nil, MaxRetries)
	h.clock.Advance(2 * time.Minute)

	require.NoError(t, h.o.DoVideoProcessing(context.Background(), v, "", "acct-1", Foreground))

	stored, err := h.jobStore.Find(context.Background(), v.ID.String())
	require.NoError(t, err)
	assert.Equal(t, job.StepFailure, stored.Step)
	assert.Zero(t, h.video.screenshotCalls)
}

func TestScreenshotsRetryWhileSourceIsNotAVideo(t *testing.T) {
	h := newHarness()
	v := h.seedVideo("binder-1")
	notAVideo := procerrors.NotAVideo(v.ID.String())
	h.video.screenshotErrs = []error{notAVideo, notAVideo, nil}

	require.NoError(t, h.o.DoVideoProcessing(context.Background(), v, "", "acct-1", Foreground))
	assert.Equal(t, 3, h.video.screenshotCalls)
	assert.Equal(t, visual.StatusCompleted, h.mustVisual(v).Status)
}

func TestScreenshotsGiveUpAfterThreeAttempts(t *testing.T) {
	h := newHarness()
	v := h.seedVideo("binder-1")
	h.video.screenshotErrs = []error{procerrors.NotAVideo(v.ID.String())}

	err := h.o.DoVideoProcessing(context.Background(), v, "", "acct-1", Foreground)
	assert.True(t, procerrors.IsKind(err, procerrors.KindNotAVideo))
	assert.Equal(t, ScreenshotAttempts, h.video.screenshotCalls)
	assert.Zero(t, h.video.transcodeCalls)
	assert.Equal(t, visual.StatusProcessing, h.mustVisual(v).Status)
}

func TestScreenshotsDoNotRetryOtherErrors(t *testing.T) {
	h := newHarness()
	v := h.seedVideo("binder-1")
	h.video.screenshotErrs = []error{errors.New("engine rejected request")}

	err := h.o.DoVideoProcessing(context.Background(), v, "", "acct-1", Foreground)
	assert.Error(t, err)
	assert.Equal(t, 1, h.video.screenshotCalls)
}

func TestDuplicateChainProcessesOriginal(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	original := h.seedVideo("binder-1")
	dup := h.seedDuplicate(original, "binder-2")

	require.NoError(t, h.o.DoVideoProcessing(ctx, dup, "", "acct-1", Foreground))

	assert.Equal(t, []string{original.ID.String()}, h.video.screenshotSeen)
	assert.Equal(t, []string{original.ID.String()}, h.video.transcodeSeen)

	dupID := dup.ID.String()
	for _, call := range h.jobs.Calls() {
		switch call {
		case "Find:" + dupID, "Create:" + dupID, "Transition:" + dupID + ":PENDING_ON_VISUAL", "Delete:" + dupID:
		default:
			assert.NotContains(t, call, dupID, "processing step written against the duplicate")
		}
	}
	assert.Contains(t, h.jobs.Calls(), "Transition:"+original.ID.String()+":TRANSCODING")

	gotOriginal := h.mustVisual(original)
	gotDup := h.mustVisual(dup)
	assert.Equal(t, visual.StatusCompleted, gotOriginal.Status)
	assert.Equal(t, visual.StatusCompleted, gotDup.Status)
	assert.ElementsMatch(t, gotOriginal.Formats, gotDup.Formats)

	_, err := h.jobStore.Find(ctx, dupID)
	assert.Error(t, err, "pending duplicate job is removed with the original's")
}

func TestDuplicateJobPendsOnOriginal(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	original := h.seedVideo("binder-1")
	dup := h.seedDuplicate(original, "binder-2")
	h.seedJob(original.ID.String(), job.StepTranscoding, nil, 0)

	require.NoError(t, h.o.DoVideoProcessing(ctx, dup, "", "acct-1", Foreground))

	pending, err := h.jobStore.Find(ctx, dup.ID.String())
	require.NoError(t, err)
	assert.Equal(t, job.StepPendingOnVisual, pending.Step)
	assert.Equal(t, original.ID.String(), pending.StepDetails.String(job.OriginalVisualIDKey))
	assert.Zero(t, h.video.screenshotCalls)
}

func TestFanOutUpdatesDuplicatesInBatches(t *testing.T) {
	h := newHarness()
	original := h.seedVideo("binder-1")
	for i := 0; i < 12; i++ {
		h.seedDuplicate(original, "binder-dup-"+string(rune('a'+i)))
	}
	h.visuals.updateDelay = 5 * time.Millisecond

	require.NoError(t, h.o.DoVideoProcessing(context.Background(), original, "", "acct-1", Foreground))

	duplicates, err := h.store.FindByOriginal(context.Background(), original.BinderID, original.ID)
	require.NoError(t, err)
	require.Len(t, duplicates, 12)
	for _, d := range duplicates {
		assert.Equal(t, visual.StatusCompleted, d.Status)
		assert.True(t, d.HasFormat(visual.FormatVideoHD))
	}
	assert.LessOrEqual(t, h.visuals.peak.Load(), int32(FanOutBatchSize))
}

func TestLegacyOriginalIsMigrated(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	original := h.seedVideo("binder-1")
	_, err := h.store.Update(ctx, original.BinderID, original.ID, visual.Update{NewFormats: []visual.VisualFormat{{
		FormatType:      visual.FormatOriginal,
		StorageLocation: "legacy-video://asset-42/original.mp4",
		Container:       "asset-42",
		Width:           640,
	}}})
	require.NoError(t, err)
	dup := h.seedDuplicate(h.mustVisual(original), "binder-2")

	require.NoError(t, h.o.DoVideoProcessing(ctx, dup, "", "acct-1", Foreground))

	assert.Equal(t, 1, h.router.legacy.copies)
	assert.Contains(t, h.router.video.addedFormats(), visual.FormatOriginal)
	migrated, ok := h.mustVisual(original).Format(visual.FormatOriginal)
	require.True(t, ok)
	assert.Equal(t, original.ID.String(), migrated.Container)
	assert.Equal(t, 640, migrated.Width)
}
