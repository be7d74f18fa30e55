package processing

import (
	"context"

	"golang.org/x/sync/errgroup"

	"jan-server/services/visual-api/internal/domain/visual"
)

// fanOut applies update to every duplicate of original, FanOutBatchSize at a time. Duplicates that
// reach a terminal status lose their pending job. Failures are logged: the original's own update
// already succeeded.
func (o *Orchestrator) fanOut(ctx context.Context, original *visual.Visual, update visual.Update) {
	if err := o.propagateToDuplicates(ctx, original, update); err != nil {
		o.log.Error().Err(err).Str("visual_id", original.ID.String()).Msg("failed to update duplicates")
	}
}

func (o *Orchestrator) propagateToDuplicates(ctx context.Context, original *visual.Visual, update visual.Update) error {
	duplicates, err := o.visuals.FindByOriginal(ctx, original.BinderID, original.ID)
	if err != nil {
		return err
	}
	terminal := update.Status != nil && update.Status.IsTerminal()

	for start := 0; start < len(duplicates); start += o.cfg.FanOutBatchSize {
		end := min(start+o.cfg.FanOutBatchSize, len(duplicates))

		g, gctx := errgroup.WithContext(ctx)
		for _, duplicate := range duplicates[start:end] {
			g.Go(func() error {
				if _, err := o.visuals.Update(gctx, duplicate.BinderID, duplicate.ID, update); err != nil {
					return err
				}
				if terminal {
					o.completeJob(gctx, duplicate.ID)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	if len(duplicates) > 0 {
		o.log.Debug().Str("visual_id", original.ID.String()).Int("duplicates", len(duplicates)).Msg("duplicates updated")
	}
	return nil
}
