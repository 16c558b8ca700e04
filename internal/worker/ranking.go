package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/snake-arena/internal/config"
)

// DefaultRankingSyncInterval is used when no interval is configured
const DefaultRankingSyncInterval = 5 * time.Minute

// Rebuilder reloads the ranking cache from the score ledger
type Rebuilder interface {
	RebuildRankings(ctx context.Context) error
}

// RankingSync periodically rebuilds the Redis ranking from the database, so
// the cache converges even if an update was lost.
type RankingSync struct {
	periodic
	rebuilder Rebuilder
	logger    *slog.Logger
}

// NewRankingSync creates a new ranking sync worker
func NewRankingSync(rebuilder Rebuilder, cfg *config.RankingSyncConfig, logger *slog.Logger) *RankingSync {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultRankingSyncInterval
	}
	w := &RankingSync{rebuilder: rebuilder, logger: logger}
	w.periodic = periodic{
		name:     "ranking sync",
		interval: interval,
		tick:     func(ctx context.Context) { _ = w.RunOnce(ctx) },
		logger:   logger,
	}
	return w
}

// RunOnce runs a single sync cycle (useful at startup and for manual triggers)
func (w *RankingSync) RunOnce(ctx context.Context) error {
	w.logger.Debug("starting ranking sync")
	startTime := time.Now()

	if err := w.rebuilder.RebuildRankings(ctx); err != nil {
		w.logger.Error("ranking sync failed", "error", err)
		return err
	}

	w.logger.Info("ranking sync completed", "duration", time.Since(startTime))
	return nil
}
