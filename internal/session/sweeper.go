package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/iliyamo/marketplace-api/internal/logger"
)

// Sweep runs SweepExpired every interval until ctx is cancelled.  A failed
// sweep is logged and retried on the next tick.
func (l *Ledger) Sweep(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	log := logger.From(ctx).With(slog.String("component", "session-sweeper"))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := l.SweepExpired(ctx)
			if err != nil {
				log.Warn("sweep failed", slog.Any("err", err))
				continue
			}
			if n > 0 {
				log.Info("expired refresh tokens purged", slog.Int64("count", n))
			}
		}
	}
}
