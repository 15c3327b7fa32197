package state

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/holdingbot/core/logger"
)

// Purger removes sessions that have not been written for a while.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RunJanitor purges sessions older than ttl every interval until ctx is done.
func RunJanitor(ctx context.Context, p Purger, ttl, interval time.Duration) {
	if p == nil || ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeOnce(ctx, p, ttl)
		}
	}
}

func purgeOnce(ctx context.Context, p Purger, ttl time.Duration) {
	start := time.Now()
	n, err := p.Purge(ctx, ttl)
	if err != nil {
		logger.Warn(ctx, "store", "store.purge",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return
	}
	if n > 0 {
		logger.Info(ctx, "store", "store.purge",
			slog.String("status", "ok"),
			slog.Int64("purged", n),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
	}
}
