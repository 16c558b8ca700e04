package handler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused per-user limiter is kept
const limiterIdleTTL = 5 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiter is a token bucket per user for heartbeat pings
type userLimiter struct {
	rate  rate.Limit
	burst int

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastPrune time.Time
}

// newUserLimiter creates a limiter allowing perSecond pings with the given
// burst. A non-positive rate disables limiting.
func newUserLimiter(perSecond float64, burst int) *userLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		rate:     rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
	}
}

// Allow reports whether userID may send another ping now
func (l *userLimiter) Allow(userID string) bool {
	if l.rate <= 0 {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	e, ok := l.limiters[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[userID] = e
	}
	e.lastSeen = now
	if now.Sub(l.lastPrune) > limiterIdleTTL {
		l.prune(now)
	}
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

func (l *userLimiter) prune(now time.Time) {
	for id, e := range l.limiters {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.limiters, id)
		}
	}
	l.lastPrune = now
}
