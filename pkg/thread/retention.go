package thread

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultRetentionDays = 90

// Pruner deletes stale threads
type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention runs a scheduled prune of old threads
type Retention struct {
	store     Pruner
	schedule  string
	retention time.Duration
	logger    zerolog.Logger
	cron      *cron.Cron
	running   bool
}

// NewRetention creates a retention job. schedule is a standard 5-field
// cron expression; retentionDays bounds how long idle threads are kept.
func NewRetention(store Pruner, schedule string, retentionDays int, logger zerolog.Logger) *Retention {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Retention{
		store:     store,
		schedule:  schedule,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start schedules the prune job
func (r *Retention) Start() error {
	if r.running {
		return fmt.Errorf("retention is already running")
	}

	if _, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.PruneNow(context.Background()); err != nil {
			r.logger.Error().Err(err).Msg("Thread retention prune failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", r.schedule, err)
	}

	r.cron.Start()
	r.running = true

	r.logger.Info().
		Str("schedule", r.schedule).
		Dur("retention", r.retention).
		Msg("Thread retention started")

	return nil
}

// Stop stops the scheduled job and waits for an in-flight prune to finish
func (r *Retention) Stop() error {
	if !r.running {
		return fmt.Errorf("retention is not running")
	}

	<-r.cron.Stop().Done()
	r.running = false

	r.logger.Info().Msg("Thread retention stopped")
	return nil
}

// PruneNow immediately prunes threads older than the retention window
func (r *Retention) PruneNow(ctx context.Context) error {
	cutoff := time.Now().Add(-r.retention)

	deleted, err := r.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	if deleted > 0 {
		r.logger.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Pruned old threads")
	}
	return nil
}

// IsRunning returns whether the retention job is scheduled
func (r *Retention) IsRunning() bool {
	return r.running
}
