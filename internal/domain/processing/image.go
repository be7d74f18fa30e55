package processing

import (
	"context"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"jan-server/services/visual-api/internal/domain/job"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/infrastructure/metrics"
)

// ProcessImage derives the sized renditions of an image. It acquires the job exactly like the
// video pipeline does.
func (o *Orchestrator) ProcessImage(ctx context.Context, v *visual.Visual, localPath, accountID string, opts RunOptions) error {
	ctx, span := o.tracer.Start(ctx, "visual.process", trace.WithAttributes(
		attribute.String("visual.id", v.ID.String()),
		attribute.String("visual.binder_id", v.BinderID),
	))
	defer span.End()

	canonical, acquired, err := o.acquireForProcessing(ctx, v, accountID)
	if err != nil || !acquired {
		return o.finishRun(v, err, opts)
	}
	if canonical.ID != v.ID {
		localPath = ""
	}
	return o.finishRun(canonical, o.runImagePipeline(ctx, canonical, localPath), opts)
}

// runImagePipeline resizes the ORIGINAL into every size it exceeds. Any failure marks the visual
// ERROR and removes its job.
func (o *Orchestrator) runImagePipeline(ctx context.Context, v *visual.Visual, localPath string) error {
	err := o.deriveImageFormats(ctx, v, localPath)
	if err == nil {
		return nil
	}

	update := visual.Update{Status: visual.StatusPtr(visual.StatusError)}
	if updated, updateErr := o.visuals.Update(ctx, v.BinderID, v.ID, update); updateErr != nil {
		o.log.Error().Err(updateErr).Str("visual_id", v.ID.String()).Msg("failed to mark visual ERROR")
	} else {
		o.fanOut(ctx, updated, update)
	}
	o.completeJob(ctx, v.ID)
	return err
}

func (o *Orchestrator) deriveImageFormats(ctx context.Context, v *visual.Visual, localPath string) error {
	if _, err := o.visuals.Update(ctx, v.BinderID, v.ID, visual.Update{Status: visual.StatusPtr(visual.StatusProcessing)}); err != nil {
		return err
	}
	handler, err := o.handlers.ForMime(v.Mime)
	if err != nil {
		return err
	}

	derive := func(path string) error {
		metadata, err := handler.GetMetadata(ctx, path)
		if err != nil {
			return fmt.Errorf("read image metadata: %w", err)
		}

		formats := make([]visual.VisualFormat, 0, len(visual.ImageSizes)+1)
		if original, ok := v.Format(visual.FormatOriginal); ok {
			original.Width, original.Height = metadata.Width, metadata.Height
			formats = append(formats, original)
		}

		backend := o.router.ForWrite(visual.KindImage)
		for _, size := range visual.ImageSizes {
			out, ok, err := handler.Resize(ctx, path, metadata, size.FormatType)
			if err != nil {
				return fmt.Errorf("resize %s: %w", size.FormatType, err)
			}
			if !ok {
				continue
			}
			stored, err := backend.AddFile(ctx, out, v.BinderID, v.ID, renditionMime(out, v.Mime), size.FormatType)
			removeFile(out)
			if err != nil {
				return err
			}
			formats = append(formats, stored.Format)

			if _, err := o.jobs.UpdateStepDetails(ctx, v.ID.String(), job.StepDetails{"lastFormat": string(size.FormatType)}); err != nil {
				o.log.Warn().Err(err).Str("visual_id", v.ID.String()).Msg("failed to record resize progress")
			}
		}

		update := visual.Update{Status: visual.StatusPtr(visual.StatusCompleted), NewFormats: formats}
		updated, err := o.visuals.Update(ctx, v.BinderID, v.ID, update)
		if err != nil {
			return err
		}
		o.completeJob(ctx, v.ID)
		o.fanOut(ctx, updated, update)

		metrics.RecordProcessingOutcome(string(visual.KindImage), "completed")
		o.log.Info().Str("visual_id", v.ID.String()).Int("formats", len(formats)).Msg("image processing completed")
		return nil
	}

	if localPath != "" {
		return derive(localPath)
	}
	return o.withOriginalCopy(ctx, v, derive)
}

// renditionMime sniffs the rendition, which is not always encoded like its source.
func renditionMime(path, fallback string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fallback
	}
	return mt.String()
}
