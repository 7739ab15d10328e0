package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Redispatcher interface {
	Redispatch(ctx context.Context, staleAfter time.Duration) (int, error)
	Reconcile(ctx context.Context) (int, error)
}

type PurgeRetrier interface {
	RetryPurges(ctx context.Context) int
}

// Sweep periodically queues jobs again whose delivery got lost, completes
// files whose required jobs all finished and resubmits CDN purges that
// failed. It returns once ctx is done.
func Sweep(ctx context.Context, every, staleAfter time.Duration, jobs Redispatcher, purges PurgeRetrier) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	zap.L().Debug("Sweeper attached", zap.Duration("tick_every", every), zap.Duration("stale_after", staleAfter))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, staleAfter, jobs, purges)
		}
	}
}

func sweepOnce(ctx context.Context, staleAfter time.Duration, jobs Redispatcher, purges PurgeRetrier) {
	n, err := jobs.Redispatch(ctx, staleAfter)
	if err != nil {
		zap.L().Error("Failed to redispatch stale jobs", zap.Error(err))
	}
	if n > 0 {
		zap.L().Info("Redispatched stale jobs", zap.Int("count", n))
	}

	n, err = jobs.Reconcile(ctx)
	if err != nil {
		zap.L().Error("Failed to reconcile processing status", zap.Error(err))
	}
	if n > 0 {
		zap.L().Info("Marked finished files completed", zap.Int("count", n))
	}

	if purges == nil {
		return
	}

	if left := purges.RetryPurges(ctx); left > 0 {
		zap.L().Warn("CDN purges still pending", zap.Int("count", left))
	}
}
