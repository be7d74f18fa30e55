package processing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/job"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/worker"
)

func TestRestartVideoProcessingRequiresStaleJob(t *testing.T) {
	h := newHarness()
	v := h.seedVideo("binder-1")

	err := h.o.RestartVideoProcessing(context.Background(), v.ID, Foreground)
	assert.True(t, procerrors.IsKind(err, procerrors.KindRestartNotPossible), "no job")

	h.seedJob(v.ID.String(), job.StepPreprocessing, nil, 0)
	h.clock.Advance(59 * time.Second)
	err = h.o.RestartVideoProcessing(context.Background(), v.ID, Foreground)
	assert.True(t, procerrors.IsKind(err, procerrors.KindRestartNotPossible), "fresh job")
}

func TestRestartVideoProcessingPendingOnVisualIsNoop(t *testing.T) {
	h := newHarness()
	v := h.seedVideo("binder-1")
	h.seedJob(v.ID.String(), job.StepPendingOnVisual, job.StepDetails{job.OriginalVisualIDKey: "vid-original"}, 0)
	h.clock.Advance(2 * time.Minute)
	h.jobs.Reset()
	calls := h.visuals.calls.Load()

	require.NoError(t, h.o.RestartVideoProcessing(context.Background(), v.ID, Foreground))

	assert.Equal(t, []string{"Find:" + v.ID.String()}, h.jobs.Calls())
	assert.Equal(t, calls, h.visuals.calls.Load())
	assert.Zero(t, h.router.video.copies)
	assert.Zero(t, h.video.screenshotCalls)
	assert.Zero(t, h.video.transcodeCalls)
	assert.Empty(t, h.video.waitCalls)
}

func TestRestartVideoProcessingRerunsPipeline(t *testing.T) {
	for _, step := range []job.Step{job.StepPreprocessing, job.StepFlaggedForReprocessing} {
		t.Run(string(step), func(t *testing.T) {
			h := newHarness()
			ctx := context.Background()
			v := h.seedVideo("binder-1")
			h.seedJob(v.ID.String(), step, nil, 0)
			h.clock.Advance(2 * time.Minute)

			require.NoError(t, h.o.RestartVideoProcessing(ctx, v.ID, Background))

			assert.Equal(t, []string{"restart-video"}, h.submitter.names)
			assert.Equal(t, 1, h.router.video.copies, "original bytes are fetched again")
			assert.Equal(t, 1, h.video.screenshotCalls)
			assert.Equal(t, 1, h.video.transcodeCalls)
			assert.Equal(t, visual.StatusCompleted, h.mustVisual(v).Status)
			assert.Contains(t, h.jobs.Calls(), "Transition:"+v.ID.String()+":PREPROCESSING")
		})
	}
}

func TestRestartVideoProcessingResumesTranscode(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v := h.seedVideo("binder-1")
	state := visual.TranscodeState{
		EncodingID:       "enc-7",
		ManifestPaths:    []string{"streaming/" + v.ID.String() + "/master.m3u8"},
		ThumbnailFormats: []visual.VisualFormat{{FormatType: visual.FormatVideoScreenshotBig}},
	}
	h.seedJob(v.ID.String(), job.StepTranscoding, state.ToDetails(), 0)
	h.clock.Advance(2 * time.Minute)

	require.NoError(t, h.o.RestartVideoProcessing(ctx, v.ID, Foreground))

	require.Len(t, h.video.waitCalls, 1)
	assert.Equal(t, "enc-7", h.video.waitCalls[0].EncodingID)
	assert.Equal(t, state.ManifestPaths, h.video.waitCalls[0].ManifestPaths)
	assert.Len(t, h.video.waitCalls[0].ThumbnailFormats, 1)
	assert.Zero(t, h.video.transcodeCalls, "an in-flight transcode is re-attached, not restarted")
	assert.Zero(t, h.video.screenshotCalls)
	assert.Equal(t, visual.StatusCompleted, h.mustVisual(v).Status)
	assert.Contains(t, h.jobs.Calls(), "Transition:"+v.ID.String()+":TRANSCODING")
}

func TestRestartVideoProcessingCountsRetries(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v := h.seedVideo("binder-1")
	h.seedJob(v.ID.String(), job.StepTranscoding, visual.TranscodeState{EncodingID: "enc-1"}.ToDetails(), 0)
	h.video.transcodeErr = procerrors.TranscodeTimeout(v.ID.String(), "enc-1")

	for i := 1; i <= MaxRetries; i++ {
		h.clock.Advance(2 * time.Minute)
		err := h.o.RestartVideoProcessing(ctx, v.ID, Foreground)
		assert.True(t, procerrors.IsKind(err, procerrors.KindTranscodeTimeout))
		stored, err := h.jobStore.Find(ctx, v.ID.String())
		require.NoError(t, err)
		assert.Equal(t, i, stored.Retries)
	}

	h.clock.Advance(2 * time.Minute)
	err := h.o.RestartVideoProcessing(ctx, v.ID, Foreground)
	assert.True(t, procerrors.IsKind(err, procerrors.KindMaxRetries))
}

func TestRestartVideoProcessingRejectsFailedJob(t *testing.T) {
	h := newHarness()
	v := h.seedVideo("binder-1")
	h.seedJob(v.ID.String(), job.StepFailure, nil, 0)
	h.clock.Advance(2 * time.Minute)

	err := h.o.RestartVideoProcessing(context.Background(), v.ID, Foreground)
	assert.True(t, procerrors.IsKind(err, procerrors.KindRestartNotPossible))
}

func TestSweepStaleJobs(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	staleVideo := h.seedVideo("binder-1")
	h.seedJob(staleVideo.ID.String(), job.StepPreprocessing, nil, 0)
	staleImage := h.seedImage("binder-1")
	h.seedJob(staleImage.ID.String(), job.StepFlaggedForReprocessing, nil, 0)
	pending := h.seedVideo("binder-2")
	h.seedJob(pending.ID.String(), job.StepPendingOnVisual, nil, 0)
	failed := h.seedVideo("binder-3")
	h.seedJob(failed.ID.String(), job.StepFailure, nil, 0)

	h.clock.Advance(2 * time.Minute)
	fresh := h.seedVideo("binder-4")
	h.seedJob(fresh.ID.String(), job.StepPreprocessing, nil, 0)

	restarted, err := h.o.SweepStaleJobs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, restarted)

	assert.Equal(t, visual.StatusCompleted, h.mustVisual(staleVideo).Status)
	assert.Equal(t, visual.StatusCompleted, h.mustVisual(staleImage).Status)
	assert.Equal(t, visual.StatusAccepted, h.mustVisual(fresh).Status)

	stillPending, err := h.jobStore.Find(ctx, pending.ID.String())
	require.NoError(t, err)
	assert.Equal(t, job.StepPendingOnVisual, stillPending.Step)
}

func TestSweepMovesExhaustedJobsToFailure(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v := h.seedVideo("binder-1")
	h.seedJob(v.ID.String(), job.StepTranscoding, nil, MaxRetries)
	h.clock.Advance(2 * time.Minute)

	restarted, err := h.o.SweepStaleJobs(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, restarted)

	stored, err := h.jobStore.Find(ctx, v.ID.String())
	require.NoError(t, err)
	assert.Equal(t, job.StepFailure, stored.Step)
}

func TestRestartDuplicateRunsUnderOriginal(t *testing.T) {
	for _, step := range []job.Step{job.StepPreprocessing, job.StepFlaggedForReprocessing} {
		t.Run(string(step), func(t *testing.T) {
			h := newHarness()
			ctx := context.Background()
			original := h.seedVideo("binder-1")
			dup := h.seedDuplicate(original, "binder-2")
			h.seedJob(dup.ID.String(), step, nil, 0)
			h.clock.Advance(2 * time.Minute)

			require.NoError(t, h.o.RestartVideoProcessing(ctx, dup.ID, Foreground))

			assert.Equal(t, []string{original.ID.String()}, h.video.screenshotSeen)
			assert.Equal(t, []string{original.ID.String()}, h.video.transcodeSeen)
			assert.Contains(t, h.jobs.Calls(), "Transition:"+dup.ID.String()+":PENDING_ON_VISUAL")
			assert.NotContains(t, h.jobs.Calls(), "Transition:"+dup.ID.String()+":TRANSCODING")
			assert.Equal(t, visual.StatusCompleted, h.mustVisual(original).Status)
			assert.Equal(t, visual.StatusCompleted, h.mustVisual(dup).Status)

			_, err := h.jobStore.Find(ctx, dup.ID.String())
			assert.Error(t, err, "duplicate job completes with the original's")
		})
	}
}

func TestRestartDuplicateRestartsStaleOriginalJob(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	original := h.seedImage("binder-1")
	dup := h.seedDuplicate(original, "binder-2")
	h.seedJob(original.ID.String(), job.StepPreprocessing, nil, 1)
	h.seedJob(dup.ID.String(), job.StepPreprocessing, nil, 0)
	h.clock.Advance(2 * time.Minute)

	require.NoError(t, h.o.RestartProcessing(ctx, dup.ID.String(), Background))

	assert.Equal(t, []string{"restart-image"}, h.submitter.names)
	assert.Equal(t, visual.StatusCompleted, h.mustVisual(original).Status)
	assert.Equal(t, visual.StatusCompleted, h.mustVisual(dup).Status)
	assert.Contains(t, h.jobs.Calls(), "Transition:"+original.ID.String()+":PREPROCESSING")
}

func TestRestartDuplicateLeavesFreshOriginalJob(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	original := h.seedVideo("binder-1")
	dup := h.seedDuplicate(original, "binder-2")
	h.seedJob(dup.ID.String(), job.StepPreprocessing, nil, 0)
	h.clock.Advance(2 * time.Minute)
	h.seedJob(original.ID.String(), job.StepTranscoding, nil, 0)

	err := h.o.RestartVideoProcessing(ctx, dup.ID, Foreground)
	assert.True(t, procerrors.IsKind(err, procerrors.KindJobInProgress))
	assert.Zero(t, h.video.screenshotCalls)

	pending, err := h.jobStore.Find(ctx, dup.ID.String())
	require.NoError(t, err)
	assert.Equal(t, job.StepPendingOnVisual, pending.Step)
	assert.Equal(t, original.ID.String(), pending.StepDetails.String(job.OriginalVisualIDKey))
}

func TestFlaggedFailureIsReprocessedBySweep(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v := h.seedVideo("binder-1")
	h.seedJob(v.ID.String(), job.StepFailure, nil, MaxRetries)

	flagged, err := h.o.FlagForReprocessing(ctx, v.BinderID, v.ID, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, job.StepFlaggedForReprocessing, flagged.Step)
	assert.Zero(t, flagged.Retries)

	h.clock.Advance(2 * time.Minute)
	restarted, err := h.o.SweepStaleJobs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, restarted)
	assert.Equal(t, visual.StatusCompleted, h.mustVisual(v).Status)

	_, err = h.jobStore.Find(ctx, v.ID.String())
	assert.Error(t, err, "completed job is removed")
}

func TestRefusedSubmissionIsRecoveredBySweep(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v := h.seedImage("binder-1")
	h.submitter.err = worker.ErrPoolStopped

	err := h.o.SubmitProcessing(ctx, v, "", "acct-1")
	require.ErrorIs(t, err, worker.ErrPoolStopped)

	parked, err := h.jobStore.Find(ctx, v.ID.String())
	require.NoError(t, err)
	assert.Equal(t, job.StepFlaggedForReprocessing, parked.Step)
	assert.Equal(t, visual.StatusAccepted, h.mustVisual(v).Status)

	h.submitter.err = nil
	h.clock.Advance(2 * time.Minute)
	restarted, err := h.o.SweepStaleJobs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, restarted)
	assert.Equal(t, visual.StatusCompleted, h.mustVisual(v).Status)
}
