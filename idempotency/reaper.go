package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Remover deletes idempotency records created before cutoff.
type Remover interface {
	RemoveExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reaper periodically removes records older than the retention window.
type Reaper struct {
	remover   Remover
	retention time.Duration
	interval  time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewReaper(remover Remover, retention, interval time.Duration, log *zap.Logger) *Reaper {
	return &Reaper{
		remover:   remover,
		retention: retention,
		interval:  interval,
		log:       log,
		now:       time.Now,
	}
}

// RunOnce removes every record created before now minus the retention window.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.retention)
	return r.remover.RemoveExpired(ctx, cutoff)
}

// Run calls RunOnce immediately and then once per interval until ctx is done.
// Failures are logged and retried at the next tick.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		removed, err := r.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.log.Error("failed to remove expired idempotency records", zap.Error(err))
		case err == nil:
			r.log.Info("removed expired idempotency records",
				zap.Int64("removed", removed),
				zap.Duration("retention", r.retention))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
