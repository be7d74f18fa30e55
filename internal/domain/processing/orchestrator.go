// Package processing drives the background derivation of visual formats: the per-visual job state
// machine, the video screenshot and transcode phases, the image resize pipeline and crash
// recovery of stale jobs.
package processing

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"jan-server/services/visual-api/internal/config"
	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/job"
	"jan-server/services/visual-api/internal/domain/notification"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/infrastructure/metrics"
	"jan-server/services/visual-api/internal/worker"
)

const (
	// MaxRetries is the number of restarts a job gets before it is forced into FAILURE.
	MaxRetries = 2
	// FreshnessWindow separates jobs being worked on from abandoned ones.
	FreshnessWindow = 60 * time.Second
	// FanOutBatchSize bounds concurrent duplicate updates.
	FanOutBatchSize = 5
	// ScreenshotAttempts includes the first attempt.
	ScreenshotAttempts   = 3
	ScreenshotRetryDelay = 5 * time.Second
)

// Config tunes the orchestrator. Zero values fall back to the package constants.
type Config struct {
	MaxRetries           int
	FreshnessWindow      time.Duration
	FanOutBatchSize      int
	ScreenshotAttempts   int
	ScreenshotRetryDelay time.Duration
}

// ConfigFrom derives the orchestrator settings from the service configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{ScreenshotRetryDelay: cfg.ScreenshotRetryDelay}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = MaxRetries
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = FreshnessWindow
	}
	if c.FanOutBatchSize <= 0 {
		c.FanOutBatchSize = FanOutBatchSize
	}
	if c.ScreenshotAttempts <= 0 {
		c.ScreenshotAttempts = ScreenshotAttempts
	}
	if c.ScreenshotRetryDelay <= 0 {
		c.ScreenshotRetryDelay = ScreenshotRetryDelay
	}
	return c
}

// RunOptions selects the error propagation policy of a pipeline run.
type RunOptions struct {
	// Background runs are detached from any caller: every error is logged and dropped.
	Background bool
}

// Foreground is used by callers that await the result, e.g. reprocessing tools.
var Foreground = RunOptions{}

// Background is used by fire-and-forget invocations.
var Background = RunOptions{Background: true}

// TaskSubmitter queues detached work.
type TaskSubmitter interface {
	Submit(ctx context.Context, task worker.Task) error
}

// Orchestrator owns the processing job state machine and dispatches to the video processor or the
// image pipeline.
type Orchestrator struct {
	cfg       Config
	visuals   visual.Repository
	jobs      job.Repository
	router    visual.Router
	handlers  visual.HandlerSelector
	notifier  notification.Dispatcher
	submitter TaskSubmitter
	video     *VideoProcessor
	log       zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewOrchestrator(
	cfg Config,
	visuals visual.Repository,
	jobs job.Repository,
	router visual.Router,
	handlers visual.HandlerSelector,
	notifier notification.Dispatcher,
	submitter TaskSubmitter,
	log zerolog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg.withDefaults(),
		visuals:   visuals,
		jobs:      jobs,
		router:    router,
		handlers:  handlers,
		notifier:  notifier,
		submitter: submitter,
		log:       log.With().Str("component", "processing-orchestrator").Logger(),
		tracer:    otel.Tracer("jan-server/visual-api/processing"),
		now:       time.Now,
	}
	o.video = newVideoProcessor(o)
	return o
}

// SubmitProcessing queues derivation of a freshly uploaded visual. The task owns localPath once
// queued. When the queue refuses the task the visual gets a FLAGGED_FOR_REPROCESSING job, so the
// stale sweep processes it from its stored ORIGINAL.
func (o *Orchestrator) SubmitProcessing(ctx context.Context, v *visual.Visual, localPath, accountID string) error {
	err := o.submitProcessing(ctx, v, localPath, accountID)
	if err == nil {
		return nil
	}
	if _, flagErr := o.createFlaggedJob(context.WithoutCancel(ctx), v.ID.String(), accountID); flagErr != nil &&
		!procerrors.IsKind(flagErr, procerrors.KindJobInProgress) {
		o.log.Error().Err(flagErr).Str("visual_id", v.ID.String()).Msg("failed to flag unsubmitted visual")
	}
	return err
}

func (o *Orchestrator) submitProcessing(ctx context.Context, v *visual.Visual, localPath, accountID string) error {
	name := "process-image"
	if v.IsVideo() {
		name = "process-video"
	}
	return o.submitter.Submit(ctx, worker.Task{
		Name:     name,
		VisualID: v.ID.String(),
		Run: func(ctx context.Context) error {
			defer removeFile(localPath)
			if v.IsVideo() {
				return o.DoVideoProcessing(ctx, v, localPath, accountID, Background)
			}
			return o.ProcessImage(ctx, v, localPath, accountID, Background)
		},
	})
}

// DoVideoProcessing is the entry point of the video pipeline. A job already in progress or a
// job that exhausted its retries ends the run without an error.
func (o *Orchestrator) DoVideoProcessing(ctx context.Context, v *visual.Visual, localPath, accountID string, opts RunOptions) error {
	ctx, span := o.tracer.Start(ctx, "visual.process", trace.WithAttributes(
		attribute.String("visual.id", v.ID.String()),
		attribute.String("visual.binder_id", v.BinderID),
	))
	defer span.End()

	canonical, acquired, err := o.acquireForProcessing(ctx, v, accountID)
	if err != nil || !acquired {
		return o.finishRun(v, err, opts)
	}
	return o.finishRun(canonical, o.runVideoPipeline(ctx, canonical, localPath, accountID), opts)
}

// runVideoPipeline continues a video run once the job is held: status PROCESSING, screenshots,
// then the full transcode.
func (o *Orchestrator) runVideoPipeline(ctx context.Context, v *visual.Visual, localPath, accountID string) error {
	updated, err := o.visuals.Update(ctx, v.BinderID, v.ID, visual.Update{
		Status:     visual.StatusPtr(visual.StatusProcessing),
		NewFormats: o.describeOriginal(ctx, v, localPath),
	})
	if err != nil {
		return err
	}

	updated, err = o.video.TakeInitialScreenshots(ctx, updated)
	if err != nil {
		return err
	}
	return o.video.Transcode(ctx, updated, accountID)
}

// describeOriginal enriches the ORIGINAL format with metadata read from the local copy. Failures
// are not fatal: the transcoder reports authoritative metadata later.
func (o *Orchestrator) describeOriginal(ctx context.Context, v *visual.Visual, localPath string) []visual.VisualFormat {
	original, ok := v.Format(visual.FormatOriginal)
	if !ok || localPath == "" {
		return nil
	}
	handler, err := o.handlers.ForMime(v.Mime)
	if err != nil {
		return nil
	}
	metadata, err := handler.GetMetadata(ctx, localPath)
	if err != nil {
		o.log.Warn().Err(err).Str("visual_id", v.ID.String()).Msg("failed to read original metadata")
		return nil
	}
	original.Width = metadata.Width
	original.Height = metadata.Height
	if metadata.Duration > 0 {
		original.Duration = metadata.Duration
		original.Codec = metadata.Codec
		original.HasAudio = metadata.HasAudio
	}
	return []visual.VisualFormat{original}
}

// finishRun applies the propagation policy: in-progress and max-retries outcomes are never errors,
// background runs log everything else, foreground runs return it.
func (o *Orchestrator) finishRun(v *visual.Visual, err error, opts RunOptions) error {
	kind := string(v.ID.Kind())
	if err == nil {
		return nil
	}

	log := o.log.With().Str("visual_id", v.ID.String()).Str("binder_id", v.BinderID).Logger()
	switch procerrors.KindOf(err) {
	case procerrors.KindJobInProgress:
		metrics.RecordProcessingOutcome(kind, "in_progress")
		log.Info().Msg("processing job already in progress; leaving it to its owner")
		return nil
	case procerrors.KindMaxRetries:
		metrics.RecordProcessingOutcome(kind, "max_retries")
		return nil
	}

	metrics.RecordProcessingOutcome(kind, "error")
	if opts.Background {
		log.Error().Err(err).Msg("background processing failed")
		return nil
	}
	return err
}

// RestartProcessing resumes a stale job of any visual kind.
func (o *Orchestrator) RestartProcessing(ctx context.Context, visualID string, opts RunOptions) error {
	id, err := visual.ParseIdentifier(visualID)
	if err != nil {
		return err
	}
	if id.IsVideo() {
		return o.RestartVideoProcessing(ctx, id, opts)
	}
	return o.restartImageProcessing(ctx, id, opts)
}

// RestartVideoProcessing resumes a video whose job went stale, branching on the persisted step.
// With background options the resumed work is queued once the job has been re-acquired.
func (o *Orchestrator) RestartVideoProcessing(ctx context.Context, id visual.Identifier, opts RunOptions) error {
	current, err := o.loadRestartableJob(ctx, id)
	if err != nil {
		return err
	}

	switch current.Step {
	case job.StepPendingOnVisual:
		o.log.Info().
			Str("visual_id", id.String()).
			Str("original_visual_id", current.StepDetails.String(job.OriginalVisualIDKey)).
			Msg("job waits on another visual; nothing to resume")
		return nil

	case job.StepPreprocessing, job.StepFlaggedForReprocessing:
		v, err := o.visuals.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if v.IsDuplicate() {
			return o.restartDuplicate(ctx, v, current, opts)
		}
		if _, err := o.restartJob(ctx, current, job.StepPreprocessing); err != nil {
			return err
		}
		return o.dispatch(ctx, "restart-video", v, opts, func(ctx context.Context) error {
			return o.withOriginalCopy(ctx, v, func(path string) error {
				return o.runVideoPipeline(ctx, v, path, current.AccountID)
			})
		})

	case job.StepTranscoding:
		v, err := o.visuals.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if v.IsDuplicate() {
			return o.restartDuplicate(ctx, v, current, opts)
		}
		state, err := visual.TranscodeStateFromDetails(current.StepDetails)
		if err != nil {
			return procerrors.RestartNotPossible(id.String(), "unreadable transcode state").WithCause(err)
		}
		if _, err := o.restartJob(ctx, current, job.StepTranscoding); err != nil {
			return err
		}
		return o.dispatch(ctx, "resume-transcode", v, opts, func(ctx context.Context) error {
			return o.video.ResumeTranscode(ctx, v, current.AccountID, state)
		})
	}

	return procerrors.RestartNotPossible(id.String(), fmt.Sprintf("step %s cannot be resumed", current.Step))
}

func (o *Orchestrator) restartImageProcessing(ctx context.Context, id visual.Identifier, opts RunOptions) error {
	current, err := o.loadRestartableJob(ctx, id)
	if err != nil {
		return err
	}

	switch current.Step {
	case job.StepPendingOnVisual:
		return nil
	case job.StepPreprocessing, job.StepFlaggedForReprocessing:
		v, err := o.visuals.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if v.IsDuplicate() {
			return o.restartDuplicate(ctx, v, current, opts)
		}
		if _, err := o.restartJob(ctx, current, job.StepPreprocessing); err != nil {
			return err
		}
		return o.dispatch(ctx, "restart-image", v, opts, func(ctx context.Context) error {
			return o.runImagePipeline(ctx, v, "")
		})
	}
	return procerrors.RestartNotPossible(id.String(), fmt.Sprintf("step %s cannot be resumed", current.Step))
}

// restartDuplicate parks a stale duplicate's job on its original again and restarts the
// original in its place. The duplicate receives the outcome through fan-out.
func (o *Orchestrator) restartDuplicate(ctx context.Context, dup *visual.Visual, current *job.Job, opts RunOptions) error {
	canonical, err := o.resolveCanonical(ctx, dup)
	if err != nil {
		return err
	}
	if err := o.linkToOriginal(ctx, dup.ID, canonical.ID); err != nil {
		return err
	}

	originalJob, err := o.jobs.Find(ctx, canonical.ID.String())
	switch {
	case err == nil:
		if originalJob.IsFresh(o.now(), o.cfg.FreshnessWindow) {
			return procerrors.JobInProgress(canonical.ID.String())
		}
		return o.RestartProcessing(ctx, canonical.ID.String(), opts)
	case !isNotFound(err):
		return err
	}

	if _, err := o.CreateOrRestartJob(ctx, canonical.ID.String(), current.AccountID); err != nil {
		return err
	}
	name := "restart-image"
	if canonical.IsVideo() {
		name = "restart-video"
	}
	return o.dispatch(ctx, name, canonical, opts, func(ctx context.Context) error {
		if !canonical.IsVideo() {
			return o.runImagePipeline(ctx, canonical, "")
		}
		return o.withOriginalCopy(ctx, canonical, func(path string) error {
			return o.runVideoPipeline(ctx, canonical, path, current.AccountID)
		})
	})
}

// loadRestartableJob fails unless a stale job exists for the visual.
func (o *Orchestrator) loadRestartableJob(ctx context.Context, id visual.Identifier) (*job.Job, error) {
	current, err := o.jobs.Find(ctx, id.String())
	if err != nil {
		if isNotFound(err) {
			return nil, procerrors.RestartNotPossible(id.String(), "no processing job exists")
		}
		return nil, err
	}
	if current.IsFresh(o.now(), o.cfg.FreshnessWindow) {
		return nil, procerrors.RestartNotPossible(id.String(), "processing job is still fresh").
			WithField("updated", current.Updated)
	}
	return current, nil
}

// dispatch runs fn inline for foreground callers or queues it for background ones.
func (o *Orchestrator) dispatch(ctx context.Context, name string, v *visual.Visual, opts RunOptions, fn func(ctx context.Context) error) error {
	if !opts.Background {
		return o.finishRun(v, fn(ctx), opts)
	}
	return o.submitter.Submit(ctx, worker.Task{
		Name:     name,
		VisualID: v.ID.String(),
		Run: func(ctx context.Context) error {
			return o.finishRun(v, fn(ctx), opts)
		},
	})
}

// withOriginalCopy fetches the ORIGINAL bytes to a temporary file for fn.
func (o *Orchestrator) withOriginalCopy(ctx context.Context, v *visual.Visual, fn func(path string) error) error {
	backend, err := o.router.BackendFor(v, visual.FormatOriginal)
	if err != nil {
		return err
	}
	return visual.WithLocalCopy(ctx, backend, v, visual.FormatOriginal, fn)
}

// FlagForReprocessing marks the canonical visual's job FLAGGED_FOR_REPROCESSING so the stale sweep
// picks it up. A job is created when none exists. A FAILURE job is replaced by a new one with a
// fresh retry budget.
func (o *Orchestrator) FlagForReprocessing(ctx context.Context, binderID string, id visual.Identifier, accountID string) (*job.Job, error) {
	v, err := o.visuals.Get(ctx, binderID, id)
	if err != nil {
		return nil, err
	}
	canonical, err := o.resolveCanonical(ctx, v)
	if err != nil {
		return nil, err
	}
	visualID := canonical.ID.String()

	existing, err := o.jobs.Find(ctx, visualID)
	switch {
	case err == nil && existing.Step == job.StepFailure:
		if err := o.jobs.Delete(ctx, visualID); err != nil && !isNotFound(err) {
			return nil, err
		}
		o.log.Info().Str("visual_id", visualID).Int("retries", existing.Retries).Msg("replacing failed job for reprocessing")
	case err == nil:
		flagged, err := o.jobs.Transition(ctx, visualID, job.StepFlaggedForReprocessing, job.StepDetails{}, job.TransitionOptions{})
		if err != nil {
			return nil, err
		}
		metrics.RecordJobTransition(string(job.StepFlaggedForReprocessing))
		return flagged, nil
	case !isNotFound(err):
		return nil, err
	}

	return o.createFlaggedJob(ctx, visualID, accountID)
}

// createFlaggedJob creates a FLAGGED_FOR_REPROCESSING job for a visual that has none.
func (o *Orchestrator) createFlaggedJob(ctx context.Context, visualID, accountID string) (*job.Job, error) {
	now := o.now().UTC()
	flagged := &job.Job{
		VisualID:    visualID,
		Step:        job.StepFlaggedForReprocessing,
		StepDetails: job.StepDetails{},
		AccountID:   accountID,
		Created:     now,
		Updated:     now,
	}
	if err := o.jobs.Create(ctx, flagged); err != nil {
		if isConflict(err) {
			return nil, procerrors.JobInProgress(visualID)
		}
		return nil, err
	}
	metrics.RecordJobTransition(string(job.StepFlaggedForReprocessing))
	return flagged, nil
}

// Job returns the processing job of a visual.
func (o *Orchestrator) Job(ctx context.Context, id visual.Identifier) (*job.Job, error) {
	return o.jobs.Find(ctx, id.String())
}

// SweepStaleJobs restarts up to limit jobs not updated within the freshness window.
func (o *Orchestrator) SweepStaleJobs(ctx context.Context, limit int) (int, error) {
	cutoff := o.now().Add(-o.cfg.FreshnessWindow)
	stale, err := o.jobs.FindWithRestrictions(ctx, job.Restrictions{
		LastUpdatedBefore: &cutoff,
		Steps:             []job.Step{job.StepPreprocessing, job.StepTranscoding, job.StepFlaggedForReprocessing},
		Limit:             limit,
	})
	if err != nil {
		return 0, err
	}

	restarted := 0
	for _, j := range stale {
		if ctx.Err() != nil {
			return restarted, ctx.Err()
		}
		log := o.log.With().Str("visual_id", j.VisualID).Str("step", string(j.Step)).Int("retries", j.Retries).Logger()

		err := o.RestartProcessing(ctx, j.VisualID, Background)
		switch procerrors.KindOf(err) {
		case "":
			if err != nil {
				metrics.RecordSweepRestart("error")
				log.Error().Err(err).Msg("failed to restart stale job")
				continue
			}
			restarted++
			metrics.RecordSweepRestart("restarted")
			log.Info().Msg("restarted stale job")
		case procerrors.KindMaxRetries:
			metrics.RecordSweepRestart("max_retries")
		case procerrors.KindJobInProgress, procerrors.KindRestartNotPossible:
			metrics.RecordSweepRestart("skipped")
			log.Debug().Err(err).Msg("stale job skipped")
		default:
			metrics.RecordSweepRestart("error")
			log.Error().Err(err).Msg("failed to restart stale job")
		}
	}
	return restarted, nil
}

func removeFile(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

// Process runs the pipeline of an existing visual, e.g. from operator tooling. Duplicates are
// processed through their original.
func (o *Orchestrator) Process(ctx context.Context, binderID string, id visual.Identifier, accountID string, opts RunOptions) error {
	v, err := o.visuals.Get(ctx, binderID, id)
	if err != nil {
		return err
	}
	if accountID == "" {
		accountID = v.AccountID
	}
	if !v.IsVideo() {
		return o.ProcessImage(ctx, v, "", accountID, opts)
	}

	canonical, err := o.resolveCanonical(ctx, v)
	if err != nil {
		return err
	}
	return o.withOriginalCopy(ctx, canonical, func(path string) error {
		return o.DoVideoProcessing(ctx, v, path, accountID, opts)
	})
}
