// Package service holds the game's business logic on top of the stores, the
// live player registry and the optional Redis, Kafka and websocket layers.
package service

import (
	"context"
	"log/slog"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/liveplayers"
	"github.com/snake-arena/internal/metrics"
	"github.com/snake-arena/internal/storage"
)

// Ranking is the best-score cache (internal/redis).
type Ranking interface {
	SetScoreIfBetter(ctx context.Context, mode domain.Mode, userID, username string, score int, seq int64) (bool, error)
	GetTopN(ctx context.Context, mode domain.Mode, n int) ([]domain.RankEntry, error)
	GetPlayerRank(ctx context.Context, mode domain.Mode, userID string) (*domain.RankEntry, error)
	RemoveUser(ctx context.Context, userID string) error
	Rebuild(ctx context.Context, mode domain.Mode, entries []domain.RankEntry) error
}

// Notifier pushes changes to spectators (internal/websocket).
type Notifier interface {
	BroadcastLivePlayerUpdate(state domain.LivePlayerState)
	BroadcastLivePlayerRemoved(id string)
	BroadcastScore(entry domain.ScoreEntry)
}

// EventPublisher publishes recorded scores (internal/kafka).
type EventPublisher interface {
	PublishScore(ctx context.Context, event domain.ScoreEvent) error
}

// Deps are the collaborators shared by the services. Ranking, Notifier,
// Publisher and Metrics are optional.
type Deps struct {
	Store     storage.Store
	Registry  *liveplayers.Registry
	Ranking   Ranking
	Notifier  Notifier
	Publisher EventPublisher
	Metrics   metrics.Recorder
	Logger    *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

type nopNotifier struct{}

func (nopNotifier) BroadcastLivePlayerUpdate(domain.LivePlayerState) {}
func (nopNotifier) BroadcastLivePlayerRemoved(string)                {}
func (nopNotifier) BroadcastScore(domain.ScoreEntry)                 {}
