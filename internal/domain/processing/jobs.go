package processing

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	procerrors "jan-server/services/visual-api/internal/domain/errors"
	"jan-server/services/visual-api/internal/domain/job"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/infrastructure/metrics"
	"jan-server/services/visual-api/internal/utils/platformerrors"
)

// legacyContainerPrefix marks ORIGINAL containers created before the container-per-visual layout.
const legacyContainerPrefix = "asset-"

// CreateOrRestartJob acquires the right to process a visual. It creates a PREPROCESSING job when
// none exists and restarts a stale one. A fresh job fails with KindJobInProgress; a job out of
// retries is moved to FAILURE and fails with KindMaxRetries.
func (o *Orchestrator) CreateOrRestartJob(ctx context.Context, visualID, accountID string) (*job.Job, error) {
	existing, err := o.jobs.Find(ctx, visualID)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		now := o.now().UTC()
		created := &job.Job{
			VisualID:    visualID,
			Step:        job.StepPreprocessing,
			StepDetails: job.StepDetails{},
			AccountID:   accountID,
			Created:     now,
			Updated:     now,
		}
		if err := o.jobs.Create(ctx, created); err != nil {
			if isConflict(err) {
				return nil, procerrors.JobInProgress(visualID)
			}
			return nil, err
		}
		metrics.RecordJobTransition(string(job.StepPreprocessing))
		return created, nil
	}
	return o.restartJob(ctx, existing, job.StepPreprocessing)
}

// restartJob applies the retry ceiling and freshness check to an existing job, then moves it to
// step and counts the restart. Step details are cleared unless the job resumes transcoding.
func (o *Orchestrator) restartJob(ctx context.Context, current *job.Job, step job.Step) (*job.Job, error) {
	log := o.log.With().
		Str("visual_id", current.VisualID).
		Str("account_id", current.AccountID).
		Str("step", string(current.Step)).
		Int("retries", current.Retries).
		Logger()

	if current.Retries >= o.cfg.MaxRetries {
		if _, err := o.jobs.Transition(ctx, current.VisualID, job.StepFailure, nil, job.TransitionOptions{}); err != nil {
			log.Error().Err(err).Msg("failed to move exhausted job to FAILURE")
		} else {
			metrics.RecordJobTransition(string(job.StepFailure))
		}
		log.WithLevel(zerolog.FatalLevel).Msg("max reprocessing retries reached; manual recovery required")
		return nil, procerrors.MaxRetries(current.VisualID, current.Retries)
	}

	if current.IsFresh(o.now(), o.cfg.FreshnessWindow) {
		return nil, procerrors.JobInProgress(current.VisualID)
	}

	var details job.StepDetails
	if step != job.StepTranscoding {
		details = job.StepDetails{}
	}
	restarted, err := o.jobs.Transition(ctx, current.VisualID, step, details, job.TransitionOptions{IncreaseRetryCount: true})
	if err != nil {
		return nil, err
	}
	metrics.RecordJobTransition(string(step))
	log.Warn().Int("new_retries", restarted.Retries).Str("new_step", string(step)).Msg("restarted stale processing job")
	return restarted, nil
}

// acquireForProcessing resolves the canonical visual and acquires its job. When v is a duplicate
// its own job is parked in PENDING_ON_VISUAL pointing at the original. acquired is false when
// another owner holds the job or retries are exhausted; err then carries the reason.
func (o *Orchestrator) acquireForProcessing(ctx context.Context, v *visual.Visual, accountID string) (canonical *visual.Visual, acquired bool, err error) {
	canonical, err = o.resolveCanonical(ctx, v)
	if err != nil {
		return nil, false, err
	}

	if _, err := o.CreateOrRestartJob(ctx, v.ID.String(), accountID); err != nil {
		return nil, false, err
	}
	if canonical.ID == v.ID {
		return canonical, true, nil
	}

	if err := o.linkToOriginal(ctx, v.ID, canonical.ID); err != nil {
		return nil, false, err
	}
	if _, err := o.CreateOrRestartJob(ctx, canonical.ID.String(), accountID); err != nil {
		return nil, false, err
	}
	return canonical, true, nil
}

func (o *Orchestrator) linkToOriginal(ctx context.Context, duplicateID, originalID visual.Identifier) error {
	_, err := o.jobs.Transition(ctx, duplicateID.String(), job.StepPendingOnVisual,
		job.StepDetails{job.OriginalVisualIDKey: originalID.String()}, job.TransitionOptions{})
	if err != nil {
		return err
	}
	metrics.RecordJobTransition(string(job.StepPendingOnVisual))
	o.log.Info().
		Str("visual_id", duplicateID.String()).
		Str("original_visual_id", originalID.String()).
		Msg("duplicate job pending on original")
	return nil
}

// resolveCanonical returns the visual processing must operate on: v itself, or the original it
// duplicates. Canonical videos stored in legacy containers are migrated first.
func (o *Orchestrator) resolveCanonical(ctx context.Context, v *visual.Visual) (*visual.Visual, error) {
	canonical := v
	if ref := v.OriginalVisualData; ref != nil {
		original, err := o.visuals.Get(ctx, ref.BinderID, ref.VisualID)
		if err != nil {
			return nil, err
		}
		canonical = original
	}
	if canonical.IsVideo() {
		return o.migrateLegacyOriginal(ctx, canonical)
	}
	return canonical, nil
}

// migrateLegacyOriginal copies an ORIGINAL held in an "asset-" container to the video default
// backend, which stores every visual in a container named after its id.
func (o *Orchestrator) migrateLegacyOriginal(ctx context.Context, v *visual.Visual) (*visual.Visual, error) {
	original, ok := v.Format(visual.FormatOriginal)
	if !ok || !strings.HasPrefix(original.Container, legacyContainerPrefix) {
		return v, nil
	}

	source, err := o.router.BackendFor(v, visual.FormatOriginal)
	if err != nil {
		return nil, err
	}
	target := o.router.ForWrite(visual.KindVideo)

	var migrated *visual.Visual
	err = visual.WithLocalCopy(ctx, source, v, visual.FormatOriginal, func(path string) error {
		stored, err := target.AddFile(ctx, path, v.BinderID, v.ID, v.Mime, visual.FormatOriginal)
		if err != nil {
			return err
		}
		format := stored.Format
		format.Width, format.Height = original.Width, original.Height
		format.Duration, format.Codec, format.HasAudio = original.Duration, original.Codec, original.HasAudio
		if format.Size == 0 {
			format.Size = original.Size
		}
		update := visual.Update{NewFormats: []visual.VisualFormat{format}}
		migrated, err = o.visuals.Update(ctx, v.BinderID, v.ID, update)
		if err != nil {
			return err
		}
		o.fanOut(ctx, migrated, update)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.log.Info().
		Str("visual_id", v.ID.String()).
		Str("legacy_container", original.Container).
		Str("storage_location", mustFormat(migrated, visual.FormatOriginal).StorageLocation).
		Msg("migrated legacy original container")
	return migrated, nil
}

// completeJob deletes the job once its visual reached a terminal status.
func (o *Orchestrator) completeJob(ctx context.Context, visualID visual.Identifier) {
	if err := o.jobs.Delete(ctx, visualID.String()); err != nil && !isNotFound(err) {
		o.log.Error().Err(err).Str("visual_id", visualID.String()).Msg("failed to delete processing job")
	}
}

func mustFormat(v *visual.Visual, formatType visual.FormatType) visual.VisualFormat {
	f, _ := v.Format(formatType)
	return f
}

func isNotFound(err error) bool {
	return platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound) || procerrors.IsKind(err, procerrors.KindNotFound)
}

func isConflict(err error) bool {
	return platformerrors.IsErrorType(err, platformerrors.ErrorTypeConflict)
}
