package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunCleanup sweeps expired records every interval until ctx is cancelled. Each sweep keeps
// deleting batches of up to batchSize until a short batch signals the backlog is empty.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, batchSize int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			total, err := sweep(ctx, store, now, batchSize)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err), zap.Int("removed", total))
				continue
			}
			if total > 0 {
				logger.Debug("idempotency cleanup", zap.Int("removed", total))
			}
		}
	}
}

func sweep(ctx context.Context, store Store, now time.Time, batchSize int) (int, error) {
	total := 0
	for {
		removed, err := store.CleanupExpired(ctx, now, batchSize)
		total += removed
		if err != nil || removed < batchSize || ctx.Err() != nil {
			return total, err
		}
	}
}
