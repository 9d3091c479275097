package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// Pruner is a store that keeps expired records until told to delete them.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// RunPruner prunes once immediately and then every interval until ctx is done.
func RunPruner(ctx context.Context, p Pruner, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		removed, err := p.Prune(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("idempotency prune failed", "err", err)
		case removed > 0:
			logger.Info("pruned expired idempotency records", "removed", removed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
