package crontab

import (
	"context"
	"sync"
	"time"

	"github.com/mileusna/crontab"
	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/config"
	"jan-server/services/visual-api/internal/utils/platformerrors"
)

const (
	CronJobTimeout       = 5 * time.Minute
	DefaultSweepSchedule = "* * * * *"
	DefaultSweepLimit    = 50
	// TokenPurgeSchedule drops every cached container token hourly.
	TokenPurgeSchedule = "0 * * * *"
)

// StaleJobSweeper restarts processing jobs that stopped making progress.
type StaleJobSweeper interface {
	SweepStaleJobs(ctx context.Context, limit int) (int, error)
}

// TokenCache is the container token cache purged on schedule.
type TokenCache interface {
	Purge()
}

type Crontab struct {
	ctab    *crontab.Crontab
	sweeper StaleJobSweeper
	tokens  TokenCache
	cfg     *config.Config
	log     zerolog.Logger

	// sweeping keeps a slow sweep from overlapping the next tick.
	sweeping sync.Mutex
}

func NewCrontab(cfg *config.Config, sweeper StaleJobSweeper, tokens TokenCache, log zerolog.Logger) *Crontab {
	return &Crontab{
		ctab:    crontab.New(),
		sweeper: sweeper,
		tokens:  tokens,
		cfg:     cfg,
		log:     log.With().Str("component", "crontab").Logger(),
	}
}

func (c *Crontab) Run(ctx context.Context) error {
	if c.cfg.SweepEnabled {
		// execute once on server start
		c.sweep(ctx)

		schedule := c.cfg.SweepSchedule
		if schedule == "" {
			schedule = DefaultSweepSchedule
		}
		if err := c.ctab.AddJob(schedule, func() {
			jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CronJobTimeout)
			defer cancel()
			c.sweep(jobCtx)
		}); err != nil {
			return platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, err, "failed to add stale job sweep")
		}
		c.log.Info().Str("schedule", schedule).Msg("stale job sweep scheduled")
	}

	if c.tokens != nil {
		if err := c.ctab.AddJob(TokenPurgeSchedule, c.tokens.Purge); err != nil {
			return platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, err, "failed to add token purge job")
		}
	}

	<-ctx.Done()
	c.ctab.Shutdown()
	return nil
}

func (c *Crontab) sweep(ctx context.Context) {
	if !c.sweeping.TryLock() {
		c.log.Debug().Msg("previous sweep still running; skipping")
		return
	}
	defer c.sweeping.Unlock()

	limit := c.cfg.SweepLimit
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	restarted, err := c.sweeper.SweepStaleJobs(ctx, limit)
	if err != nil {
		c.log.Error().Err(err).Msg("stale job sweep failed")
		return
	}
	if restarted > 0 {
		c.log.Info().Int("restarted", restarted).Msg("stale job sweep finished")
	}
}
