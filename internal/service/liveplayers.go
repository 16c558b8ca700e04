package service

import (
	"log/slog"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/liveplayers"
	"github.com/snake-arena/internal/metrics"
)

// LivePlayerService tracks games in progress for spectators
type LivePlayerService struct {
	registry *liveplayers.Registry
	notifier Notifier
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// NewLivePlayerService creates a new live player service
func NewLivePlayerService(deps Deps) *LivePlayerService {
	deps = deps.withDefaults()
	return &LivePlayerService{
		registry: deps.Registry,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// Ping records a heartbeat from user. The session key is the user id plus
// the mode, so a user has at most one live session per mode.
func (s *LivePlayerService) Ping(user *domain.User, hb domain.Heartbeat) (domain.LivePlayerState, error) {
	snake := hb.Snake
	if snake == nil {
		snake = []domain.Position{}
	}
	state := domain.LivePlayerState{
		ID:        domain.LivePlayerKey(user.ID, hb.Mode),
		Username:  user.Username,
		Score:     hb.Score,
		Mode:      hb.Mode,
		Snake:     snake,
		Food:      hb.Food,
		Direction: hb.Direction,
		IsPlaying: hb.IsPlaying,
	}
	if err := state.Validate(); err != nil {
		return domain.LivePlayerState{}, err
	}

	s.registry.Serialize(state.ID, func() {
		s.registry.Upsert(state)
		s.notifier.BroadcastLivePlayerUpdate(state)
	})
	s.metrics.RecordPing(state.Mode)
	return state, nil
}

// List returns every live session
func (s *LivePlayerService) List() []domain.LivePlayerState {
	return s.registry.List()
}

// Get returns one live session or domain.ErrLivePlayerNotFound
func (s *LivePlayerService) Get(id string) (domain.LivePlayerState, error) {
	return s.registry.Get(id)
}

// Leave ends user's live session in mode. Leaving twice is not an error.
func (s *LivePlayerService) Leave(user *domain.User, mode domain.Mode) {
	endSession(s.registry, s.notifier, domain.LivePlayerKey(user.ID, mode))
}

// RemoveUser ends every session of a user
func (s *LivePlayerService) RemoveUser(userID string) {
	for _, mode := range domain.Modes {
		endSession(s.registry, s.notifier, domain.LivePlayerKey(userID, mode))
	}
}

// Clear removes every live session
func (s *LivePlayerService) Clear() {
	removed := s.registry.Clear()
	s.announceRemoved(removed)
	s.logger.Info("live players cleared", "count", len(removed))
}

// EvictStale removes sessions that missed their heartbeats and returns how many were removed
func (s *LivePlayerService) EvictStale() int {
	evicted := s.registry.Sweep()
	s.announceRemoved(evicted)
	if len(evicted) > 0 {
		s.metrics.RecordEvictions(len(evicted))
		s.logger.Debug("evicted stale live players", "count", len(evicted))
	}
	return len(evicted)
}

// announceRemoved tells spectators about sessions removed in bulk. A session
// that received a heartbeat after removal is live again and is skipped.
func (s *LivePlayerService) announceRemoved(ids []string) {
	for _, id := range ids {
		s.registry.Serialize(id, func() {
			if _, err := s.registry.Get(id); err == nil {
				return
			}
			s.notifier.BroadcastLivePlayerRemoved(id)
		})
	}
}

// endSession removes one session and announces it if an entry was stored.
func endSession(registry *liveplayers.Registry, notifier Notifier, key string) {
	registry.Serialize(key, func() {
		if registry.Remove(key) {
			notifier.BroadcastLivePlayerRemoved(key)
		}
	})
}

// Count returns the number of stored sessions
func (s *LivePlayerService) Count() int {
	return s.registry.Len()
}
