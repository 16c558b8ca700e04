// Package storage defines the persistence contracts for users and scores.
// Implementations live in internal/postgres, internal/sqlite and
// internal/storage/memory.
package storage

import (
	"context"

	"github.com/snake-arena/internal/domain"
)

// UserStore persists user identities and password hashes.
type UserStore interface {
	// CreateUser fails with domain.ErrEmailTaken or domain.ErrUsernameTaken on duplicates.
	CreateUser(ctx context.Context, username, email, passwordHash string) (*domain.User, error)
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
	UserByID(ctx context.Context, id string) (*domain.User, error)
	UserByUsername(ctx context.Context, username string) (*domain.User, error)
	PasswordHash(ctx context.Context, userID string) (string, error)
	SetSuperuser(ctx context.Context, id string, superuser bool) error

	ListUsers(ctx context.Context, offset, limit int) ([]domain.User, error)
	CountUsers(ctx context.Context) (int64, error)
	// DeleteUser removes the user and, by cascade, their score entries.
	DeleteUser(ctx context.Context, id string) error
}

// ScoreStore is the append-only score ledger.
type ScoreStore interface {
	SubmitScore(ctx context.Context, userID, username string, score int, mode domain.Mode) (*domain.ScoreEntry, error)
	// Scores returns entries ordered by score descending, ties in submission order.
	// A nil mode returns every mode.
	Scores(ctx context.Context, mode *domain.Mode) ([]domain.ScoreEntry, error)
	// HighScore returns 0 when the user has no matching entries.
	HighScore(ctx context.Context, userID string, mode *domain.Mode) (int, error)
	// BestScores returns each user's best score in a mode, for rebuilding
	// rankings. Entries are ranked highest first; equal scores rank by who
	// reached them first.
	BestScores(ctx context.Context, mode domain.Mode) ([]domain.RankEntry, error)

	CountScores(ctx context.Context) (int64, error)
	CountScoresByMode(ctx context.Context) (map[domain.Mode]int64, error)
}

// Store is the full datastore used by the service.
type Store interface {
	UserStore
	ScoreStore
	Ping(ctx context.Context) error
	Close() error
}
