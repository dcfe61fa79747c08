package campaign

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically completes RUNNING campaigns whose executions have
// all been attempted.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a new sweeper.
func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is canceled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("campaign sweeper started", "interval", sw.interval)

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("campaign sweeper stopped")
			return
		case <-ticker.C:
			completed, err := sw.service.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				sw.logger.Error("campaign sweep failed", "error", err)
				continue
			}
			if completed > 0 {
				sw.logger.Info("completed finished campaigns", "count", completed)
			}
		}
	}
}
