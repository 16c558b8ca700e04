// Package liveplayers holds the in-memory registry of games in progress.
//
// The registry is keyed by session id (see domain.LivePlayerKey). Every
// write replaces the whole entry, and every read returns a private copy, so
// a reader sees either the old or the new state of an upsert and never a mix.
// Entries that have not been refreshed within the TTL are invisible to reads
// and are removed by Sweep.
package liveplayers

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/snake-arena/internal/clock"
	"github.com/snake-arena/internal/domain"
)

// DefaultShards is used when Config.Shards is not positive.
const DefaultShards = 16

// Config controls registry sizing and expiry.
type Config struct {
	// TTL is how long an entry stays live without a heartbeat. Zero disables expiry.
	TTL time.Duration
	// Shards is the number of independently locked partitions.
	Shards int
}

type entry struct {
	state     domain.LivePlayerState
	updatedAt time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
	// order is held across a write and the notification that follows it.
	order sync.Mutex
}

// Registry is a sharded, concurrency-safe map of live player states.
type Registry struct {
	shards []*shard
	ttl    time.Duration
	clock  clock.Clock
}

// NewRegistry creates an empty registry
func NewRegistry(cfg Config, clk clock.Clock) *Registry {
	n := cfg.Shards
	if n <= 0 {
		n = DefaultShards
	}
	if clk == nil {
		clk = clock.New()
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]entry)}
	}
	return &Registry{
		shards: shards,
		ttl:    cfg.TTL,
		clock:  clk,
	}
}

func (r *Registry) shardFor(id string) *shard {
	return r.shards[xxhash.Sum64String(id)%uint64(len(r.shards))]
}

func (r *Registry) expired(e entry, now time.Time) bool {
	return r.ttl > 0 && now.Sub(e.updatedAt) > r.ttl
}

// Upsert replaces the entry for state.ID wholesale and refreshes its
// last-update time. The registry keeps its own copy of the snake.
func (r *Registry) Upsert(state domain.LivePlayerState) {
	e := entry{state: state.Clone(), updatedAt: r.clock.Now()}
	s := r.shardFor(state.ID)
	s.mu.Lock()
	s.entries[state.ID] = e
	s.mu.Unlock()
}

// Get returns the current state for id, or domain.ErrLivePlayerNotFound if
// there is none or it has expired.
func (r *Registry) Get(id string) (domain.LivePlayerState, error) {
	s := r.shardFor(id)
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok || r.expired(e, r.clock.Now()) {
		return domain.LivePlayerState{}, domain.ErrLivePlayerNotFound
	}
	return e.state.Clone(), nil
}

// List returns a snapshot of every live entry. Order is unspecified.
func (r *Registry) List() []domain.LivePlayerState {
	now := r.clock.Now()
	out := make([]domain.LivePlayerState, 0)
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if r.expired(e, now) {
				continue
			}
			out = append(out, e.state.Clone())
		}
		s.mu.RUnlock()
	}
	return out
}

// Remove deletes the entry for id and reports whether one was stored,
// including an expired entry not yet swept. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	return ok
}

// Clear removes every entry and returns the removed ids.
func (r *Registry) Clear() []string {
	var removed []string
	for _, s := range r.shards {
		s.mu.Lock()
		for id := range s.entries {
			removed = append(removed, id)
		}
		s.entries = make(map[string]entry)
		s.mu.Unlock()
	}
	return removed
}

// Serialize runs fn while holding the ordering lock for id's shard. Callers
// that write an entry and then announce the change do both inside fn, so
// announcements for a session go out in the order its writes were applied.
// fn must not call Serialize.
func (r *Registry) Serialize(id string, fn func()) {
	s := r.shardFor(id)
	s.order.Lock()
	defer s.order.Unlock()
	fn()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Sweep removes expired entries and returns their ids.
func (r *Registry) Sweep() []string {
	if r.ttl <= 0 {
		return nil
	}
	now := r.clock.Now()
	var evicted []string
	for _, s := range r.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			if r.expired(e, now) {
				delete(s.entries, id)
				evicted = append(evicted, id)
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// TTL returns the configured inactivity window.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}
