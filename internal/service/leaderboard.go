package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/liveplayers"
	"github.com/snake-arena/internal/metrics"
	"github.com/snake-arena/internal/storage"
)

// LeaderboardService provides business logic for score operations
type LeaderboardService struct {
	store     storage.Store
	registry  *liveplayers.Registry
	ranking   Ranking
	notifier  Notifier
	publisher EventPublisher
	metrics   metrics.Recorder
	config    *config.LeaderboardConfig
	logger    *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(deps Deps, cfg *config.LeaderboardConfig) *LeaderboardService {
	deps = deps.withDefaults()
	return &LeaderboardService{
		store:     deps.Store,
		registry:  deps.Registry,
		ranking:   deps.Ranking,
		notifier:  deps.Notifier,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		config:    cfg,
		logger:    deps.Logger,
	}
}

// SubmitScore records a finished game for user. The user's live entry for
// the mode is removed because the game is over.
func (s *LeaderboardService) SubmitScore(ctx context.Context, user *domain.User, submission domain.ScoreSubmission, source string) (*domain.ScoreEntry, error) {
	if err := submission.Validate(); err != nil {
		return nil, err
	}

	entry, err := s.store.SubmitScore(ctx, user.ID, user.Username, submission.Score, submission.Mode)
	if err != nil {
		return nil, fmt.Errorf("recording score: %w", err)
	}
	s.metrics.RecordScoreSubmitted(entry.Mode, source)

	if s.registry != nil {
		endSession(s.registry, s.notifier, domain.LivePlayerKey(user.ID, entry.Mode))
	}

	// The ledger is the source of truth; cache and stream failures don't fail the request.
	if s.ranking != nil {
		if _, err := s.ranking.SetScoreIfBetter(ctx, entry.Mode, user.ID, user.Username, entry.Score, entry.Seq); err != nil {
			s.logger.Warn("failed to update ranking cache", "user_id", user.ID, "error", err)
		}
	}
	if s.publisher != nil {
		event := domain.ScoreEvent{
			EntryID:   entry.ID,
			UserID:    entry.UserID,
			Username:  entry.Username,
			Score:     entry.Score,
			Mode:      entry.Mode,
			Timestamp: entry.CreatedAt,
		}
		if err := s.publisher.PublishScore(ctx, event); err != nil {
			s.logger.Warn("failed to publish score event", "entry_id", entry.ID, "error", err)
		}
	}
	s.notifier.BroadcastScore(*entry)

	s.logger.Info("score submitted",
		"user_id", user.ID,
		"score", entry.Score,
		"mode", entry.Mode.String(),
		"source", source,
	)
	return entry, nil
}

// SubmitScoreForUserID records a score on behalf of a user identified by id,
// as used by the Kafka ingestion path.
func (s *LeaderboardService) SubmitScoreForUserID(ctx context.Context, userID string, submission domain.ScoreSubmission, source string) (*domain.ScoreEntry, error) {
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.SubmitScore(ctx, user, submission, source)
}

// Scores returns the leaderboard, optionally filtered by mode
func (s *LeaderboardService) Scores(ctx context.Context, mode *domain.Mode) ([]domain.ScoreEntry, error) {
	return s.store.Scores(ctx, mode)
}

// HighScore returns the best score of the user identified by userRef, which
// may be a user id or a username. Unknown users have a high score of 0.
func (s *LeaderboardService) HighScore(ctx context.Context, userRef string, mode *domain.Mode) (int, error) {
	if userRef == "" {
		return 0, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	userID, err := s.resolveUserID(ctx, userRef)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return s.store.HighScore(ctx, userID, mode)
}

func (s *LeaderboardService) resolveUserID(ctx context.Context, ref string) (string, error) {
	user, err := s.store.UserByID(ctx, ref)
	if err == nil {
		return user.ID, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return "", err
	}
	user, err = s.store.UserByUsername(ctx, ref)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func (s *LeaderboardService) clampLimit(n int) int {
	if n <= 0 {
		n = s.config.DefaultLimit
	}
	if n > s.config.MaxLimit {
		n = s.config.MaxLimit
	}
	return n
}

// TopScores returns the best score of the top n users in a mode. It reads the
// ranking cache when one is configured and the ledger otherwise.
func (s *LeaderboardService) TopScores(ctx context.Context, mode domain.Mode, n int) ([]domain.RankEntry, error) {
	n = s.clampLimit(n)
	if s.ranking != nil {
		entries, err := s.ranking.GetTopN(ctx, mode, n)
		if err == nil {
			return entries, nil
		}
		s.logger.Warn("ranking cache unavailable, reading ledger", "error", err)
	}

	ranked, err := s.rankFromLedger(ctx, mode)
	if err != nil {
		return nil, err
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

// PlayerRank returns the rank of a user (id or username) in a mode
func (s *LeaderboardService) PlayerRank(ctx context.Context, mode domain.Mode, userRef string) (*domain.RankEntry, error) {
	userID, err := s.resolveUserID(ctx, userRef)
	if err != nil {
		return nil, err
	}
	if s.ranking != nil {
		entry, err := s.ranking.GetPlayerRank(ctx, mode, userID)
		if err == nil || errors.Is(err, domain.ErrRankNotFound) {
			return entry, err
		}
		s.logger.Warn("ranking cache unavailable, reading ledger", "error", err)
	}

	ranked, err := s.rankFromLedger(ctx, mode)
	if err != nil {
		return nil, err
	}
	for i := range ranked {
		if ranked[i].UserID == userID {
			return &ranked[i], nil
		}
	}
	return nil, domain.ErrRankNotFound
}

func (s *LeaderboardService) rankFromLedger(ctx context.Context, mode domain.Mode) ([]domain.RankEntry, error) {
	best, err := s.store.BestScores(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("getting best scores: %w", err)
	}
	domain.RankBestScores(best)
	return best, nil
}

// RebuildRankings reloads the ranking cache from the ledger for every mode
func (s *LeaderboardService) RebuildRankings(ctx context.Context) error {
	if s.ranking == nil {
		return nil
	}
	start := time.Now()
	err := s.rebuildRankings(ctx)
	s.metrics.RecordRankingSync(time.Since(start), err)
	return err
}

func (s *LeaderboardService) rebuildRankings(ctx context.Context) error {
	for _, mode := range domain.Modes {
		best, err := s.store.BestScores(ctx, mode)
		if err != nil {
			return fmt.Errorf("getting best scores for %s: %w", mode.String(), err)
		}
		if err := s.ranking.Rebuild(ctx, mode, best); err != nil {
			return fmt.Errorf("rebuilding %s ranking: %w", mode.String(), err)
		}
	}
	return nil
}
