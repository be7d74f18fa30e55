package processing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/job"
	"jan-server/services/visual-api/internal/domain/notification"
	"jan-server/services/visual-api/internal/domain/retry"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/infrastructure/metrics"
)

// VideoProcessor runs the two video phases, initial screenshots and the full transcode, and
// persists transcode progress so a crashed run can re-attach to it.
type VideoProcessor struct {
	o *Orchestrator
}

func newVideoProcessor(o *Orchestrator) *VideoProcessor {
	return &VideoProcessor{o: o}
}

func (p *VideoProcessor) handlerFor(v *visual.Visual) (visual.VideoHandler, error) {
	handler, err := p.o.handlers.ForMime(v.Mime)
	if err != nil {
		return nil, err
	}
	videoHandler, ok := handler.(visual.VideoHandler)
	if !ok {
		return nil, procerrors.Validation("no video handler for mime " + v.Mime)
	}
	return videoHandler, nil
}

// request builds the engine request: a readable URL of the ORIGINAL and the output container on the
// video default backend.
func (p *VideoProcessor) request(ctx context.Context, v *visual.Visual, formatType visual.FormatType) (visual.TranscodeRequest, error) {
	source, err := p.o.router.BackendFor(v, visual.FormatOriginal)
	if err != nil {
		return visual.TranscodeRequest{}, err
	}
	sourceURL, err := source.StorageURL(ctx, v, visual.FormatOriginal)
	if err != nil {
		return visual.TranscodeRequest{}, err
	}
	container, err := p.o.router.ForWrite(visual.KindVideo).CreateOutputAsset(ctx, v.BinderID, v.ID, formatType)
	if err != nil {
		return visual.TranscodeRequest{}, err
	}
	return visual.TranscodeRequest{SourceURL: sourceURL, OutputContainer: container}, nil
}

// TakeInitialScreenshots requests the screenshot renditions. "Not a video" answers are retried
// because fresh uploads may not be visible to the engine yet.
func (p *VideoProcessor) TakeInitialScreenshots(ctx context.Context, v *visual.Visual) (*visual.Visual, error) {
	ctx, span := p.o.tracer.Start(ctx, "video.screenshots", trace.WithAttributes(attribute.String("visual.id", v.ID.String())))
	defer span.End()

	handler, err := p.handlerFor(v)
	if err != nil {
		return nil, err
	}
	req, err := p.request(ctx, v, visual.FormatVideoScreenshot)
	if err != nil {
		return nil, err
	}

	log := p.o.log.With().Str("visual_id", v.ID.String()).Str("binder_id", v.BinderID).Logger()
	policy := retry.FixedPolicy(p.o.cfg.ScreenshotAttempts, p.o.cfg.ScreenshotRetryDelay, func(err error) bool {
		return procerrors.IsKind(err, procerrors.KindNotAVideo)
	})
	formats, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) ([]visual.VisualFormat, error) {
		return handler.Screenshots(ctx, v, req)
	}, func(attempt int, err error, delay time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("screenshot source not visible yet; retrying")
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "screenshots failed")
		return nil, err
	}

	update := visual.Update{
		Status:     visual.StatusPtr(visual.StatusProcessingBackground),
		NewFormats: formats,
	}
	updated, err := p.o.visuals.Update(ctx, v.BinderID, v.ID, update)
	if err != nil {
		return nil, err
	}
	if _, err := p.o.jobs.UpdateStepDetails(ctx, v.ID.String(), job.StepDetails{"screenshots": len(formats)}); err != nil {
		log.Warn().Err(err).Msg("failed to record screenshot progress")
	}
	p.o.fanOut(ctx, updated, update)

	log.Info().Int("screenshots", len(formats)).Msg("initial screenshots stored")
	return updated, nil
}

// Transcode moves the job to TRANSCODING and runs the full transcode.
func (p *VideoProcessor) Transcode(ctx context.Context, v *visual.Visual, accountID string) error {
	ctx, span := p.o.tracer.Start(ctx, "video.transcode", trace.WithAttributes(attribute.String("visual.id", v.ID.String())))
	defer span.End()

	handler, err := p.handlerFor(v)
	if err != nil {
		return err
	}
	if _, err := p.o.jobs.Transition(ctx, v.ID.String(), job.StepTranscoding, job.StepDetails{}, job.TransitionOptions{}); err != nil {
		return err
	}
	metrics.RecordJobTransition(string(job.StepTranscoding))

	req, err := p.request(ctx, v, visual.FormatVideoWebDefault)
	if err != nil {
		return err
	}
	result, err := handler.Transcode(ctx, v, req, p.progress(v))
	return p.complete(ctx, span, v, accountID, result, err)
}

// ResumeTranscode re-attaches to an in-flight transcode using the persisted state. Without an
// encoding id there is nothing to re-attach to and the transcode starts over.
func (p *VideoProcessor) ResumeTranscode(ctx context.Context, v *visual.Visual, accountID string, state visual.TranscodeState) error {
	if state.EncodingID == "" {
		p.o.log.Warn().Str("visual_id", v.ID.String()).Msg("no encoding id persisted; starting transcode over")
		return p.Transcode(ctx, v, accountID)
	}

	ctx, span := p.o.tracer.Start(ctx, "video.transcode.resume", trace.WithAttributes(
		attribute.String("visual.id", v.ID.String()),
		attribute.String("transcode.encoding_id", state.EncodingID),
	))
	defer span.End()

	handler, err := p.handlerFor(v)
	if err != nil {
		return err
	}
	result, err := handler.WaitToCompleteTranscode(ctx, v, state, p.progress(v))
	return p.complete(ctx, span, v, accountID, result, err)
}

// progress persists every reported state into the job so a crash can resume from it.
func (p *VideoProcessor) progress(v *visual.Visual) visual.ProgressFunc {
	return func(ctx context.Context, state visual.TranscodeState) error {
		_, err := p.o.jobs.UpdateStepDetails(ctx, v.ID.String(), state.ToDetails())
		return err
	}
}

func (p *VideoProcessor) complete(ctx context.Context, span trace.Span, v *visual.Visual, accountID string, result *visual.TranscodeResult, err error) error {
	log := p.o.log.With().Str("visual_id", v.ID.String()).Str("binder_id", v.BinderID).Str("account_id", accountID).Logger()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcode failed")
		if procerrors.IsKind(err, procerrors.KindTranscodeFailed) {
			update := visual.Update{Status: visual.StatusPtr(visual.StatusError)}
			updated, updateErr := p.o.visuals.Update(ctx, v.BinderID, v.ID, update)
			if updateErr != nil {
				log.Error().Err(updateErr).Msg("failed to mark visual ERROR")
			} else {
				p.o.fanOut(ctx, updated, update)
			}
			p.o.completeJob(ctx, v.ID)
			metrics.RecordProcessingOutcome(string(visual.KindVideo), "transcode_failed")
			log.Error().Err(err).Msg("transcode failed; visual marked ERROR")
		}
		return err
	}

	update := visual.Update{
		Status:        visual.StatusPtr(visual.StatusCompleted),
		NewFormats:    result.Formats,
		StreamingInfo: result.StreamingInfo,
	}
	updated, err := p.o.visuals.Update(ctx, v.BinderID, v.ID, update)
	if err != nil {
		return err
	}
	p.o.fanOut(ctx, updated, update)
	p.o.completeJob(ctx, v.ID)

	p.o.notifier.Dispatch(ctx, notification.AccountTarget(accountID), notification.EventVideoProcessingEnd, map[string]any{
		"visualId": updated.ID.String(),
		"binderId": updated.BinderID,
		"status":   string(updated.Status),
	})
	metrics.RecordProcessingOutcome(string(visual.KindVideo), "completed")
	log.Info().Int("formats", len(result.Formats)).Msg("video processing completed")
	return nil
}
