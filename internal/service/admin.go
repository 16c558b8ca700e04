package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/storage"
)

// AdminService implements superuser operations
type AdminService struct {
	store   storage.Store
	ranking Ranking
	live    *LivePlayerService
	logger  *slog.Logger
}

// NewAdminService creates a new admin service
func NewAdminService(deps Deps, live *LivePlayerService) *AdminService {
	deps = deps.withDefaults()
	return &AdminService{
		store:   deps.Store,
		ranking: deps.Ranking,
		live:    live,
		logger:  deps.Logger,
	}
}

// RequireSuperuser returns domain.ErrNotSuperuser unless user is an administrator
func RequireSuperuser(user *domain.User) error {
	if user == nil || !user.IsSuperuser {
		return domain.ErrNotSuperuser
	}
	return nil
}

// Stats returns user and game counts
func (s *AdminService) Stats(ctx context.Context) (*domain.Stats, error) {
	users, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}
	games, err := s.store.CountScores(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting games: %w", err)
	}
	byMode, err := s.store.CountScoresByMode(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting games by mode: %w", err)
	}

	stats := &domain.Stats{
		Users:       users,
		Games:       games,
		GamesByMode: make(map[string]int64, len(byMode)),
	}
	for mode, n := range byMode {
		stats.GamesByMode[mode.String()] = n
	}
	return stats, nil
}

// ListUsers returns a page of users
func (s *AdminService) ListUsers(ctx context.Context, skip, limit int) ([]domain.User, error) {
	if skip < 0 {
		skip = 0
	}
	return s.store.ListUsers(ctx, skip, limit)
}

// DeleteUser removes a user with their scores, ranking and live sessions.
// Administrators can not delete themselves.
func (s *AdminService) DeleteUser(ctx context.Context, actor *domain.User, userID string) error {
	if _, err := s.store.UserByID(ctx, userID); err != nil {
		return err
	}
	if userID == actor.ID {
		return domain.ErrDeleteSelf
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}

	if s.ranking != nil {
		if err := s.ranking.RemoveUser(ctx, userID); err != nil {
			s.logger.Warn("failed to remove user from ranking cache", "user_id", userID, "error", err)
		}
	}
	if s.live != nil {
		s.live.RemoveUser(userID)
	}

	s.logger.Info("user deleted", "user_id", userID, "by", actor.ID)
	return nil
}

// ClearLivePlayers removes every live session
func (s *AdminService) ClearLivePlayers() {
	s.live.Clear()
}
