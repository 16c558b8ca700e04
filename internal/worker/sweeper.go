package worker

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when no interval is configured
const DefaultSweepInterval = 5 * time.Second

// Evictor removes stale live players and reports how many it removed
type Evictor interface {
	EvictStale() int
}

// Sweeper periodically evicts live players that stopped sending heartbeats
type Sweeper struct {
	periodic
	evictor Evictor
}

// NewSweeper creates a new sweeper
func NewSweeper(evictor Evictor, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &Sweeper{evictor: evictor}
	s.periodic = periodic{
		name:     "live player sweeper",
		interval: interval,
		tick:     func(context.Context) { s.RunOnce() },
		logger:   logger,
	}
	return s
}

// RunOnce runs a single sweep
func (s *Sweeper) RunOnce() int {
	return s.evictor.EvictStale()
}
