// Package sqlite is the single-file datastore used for local development
// and small deployments.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements storage.Store on SQLite
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

func dsn(path string) string {
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
}

// Open opens (creating if needed) the database file at path and applies migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if err := RunMigrations(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, domain.Unavailable("connecting to database", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// RunMigrations applies all pending migrations to the database file at path.
func RunMigrations(path string) error {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return fmt.Errorf("opening database for migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("creating migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("creating migrator: %w", err)
	}
	// Closing the migrator closes db as well.
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Ping checks that the database is usable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.Unavailable("pinging database", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// wrap adds op to err and marks lock contention and I/O failures as
// unavailability so callers can report them as temporary.
func wrap(op string, err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrFull:
			return domain.Unavailable(op, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.ExtendedCode == code
}

const userColumns = `id, username, email, password_hash, is_superuser, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsSuperuser, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// CreateUser inserts a new user
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (*domain.User, error) {
	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, 0, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) {
			if strings.Contains(err.Error(), "users.username") {
				return nil, domain.ErrUsernameTaken
			}
			return nil, domain.ErrEmailTaken
		}
		return nil, wrap("creating user", err)
	}
	return u, nil
}

func (s *Store) userBy(ctx context.Context, where string, arg any) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, wrap("getting user", err)
	}
	return u, nil
}

// UserByEmail looks a user up by email; the column collates case-insensitively
func (s *Store) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.userBy(ctx, `email = ?`, email)
}

// UserByID looks a user up by id
func (s *Store) UserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.userBy(ctx, `id = ?`, id)
}

// UserByUsername looks a user up by username
func (s *Store) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.userBy(ctx, `username = ?`, username)
}

// PasswordHash returns the stored bcrypt hash for a user
func (s *Store) PasswordHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = ?`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrUserNotFound
		}
		return "", wrap("getting password hash", err)
	}
	return hash, nil
}

// ListUsers returns users in signup order. A non-positive limit returns all remaining users.
func (s *Store) ListUsers(ctx context.Context, offset, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, wrap("listing users", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("listing users", err)
	}
	return users, nil
}

// CountUsers returns the number of registered users
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, wrap("counting users", err)
	}
	return n, nil
}

// DeleteUser removes a user; score entries go with it by cascade
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return wrap("deleting user", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return wrap("deleting user", err)
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// SetSuperuser grants or revokes administrator rights
func (s *Store) SetSuperuser(ctx context.Context, id string, v bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET is_superuser = ? WHERE id = ?`, v, id)
	if err != nil {
		return wrap("updating superuser flag", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// SubmitScore appends an entry to the ledger
func (s *Store) SubmitScore(ctx context.Context, userID, username string, score int, mode domain.Mode) (*domain.ScoreEntry, error) {
	e := domain.ScoreEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		Score:     score,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO score_entries (id, user_id, username, score, mode, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, userID, username, score, string(mode), e.CreatedAt)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return nil, domain.ErrUserNotFound
		}
		return nil, wrap("submitting score", err)
	}
	if e.Seq, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading score sequence: %w", err)
	}
	return &e, nil
}

// Scores returns ledger entries, best first, ties in submission order
func (s *Store) Scores(ctx context.Context, mode *domain.Mode) ([]domain.ScoreEntry, error) {
	query := `SELECT id, user_id, username, score, mode, created_at, seq FROM score_entries`
	var args []any
	if mode != nil {
		query += ` WHERE mode = ?`
		args = append(args, string(*mode))
	}
	query += ` ORDER BY score DESC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("listing scores", err)
	}
	defer rows.Close()

	entries := make([]domain.ScoreEntry, 0)
	for rows.Next() {
		var (
			e       domain.ScoreEntry
			rawMode string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Username, &e.Score, &rawMode, &e.CreatedAt, &e.Seq); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		if e.Mode, err = domain.ModeFromStorage(rawMode); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("listing scores", err)
	}
	return entries, nil
}

// HighScore returns the user's best score, or 0 without entries
func (s *Store) HighScore(ctx context.Context, userID string, mode *domain.Mode) (int, error) {
	query := `SELECT COALESCE(MAX(score), 0) FROM score_entries WHERE user_id = ?`
	args := []any{userID}
	if mode != nil {
		query += ` AND mode = ?`
		args = append(args, string(*mode))
	}
	var best int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&best); err != nil {
		return 0, wrap("getting high score", err)
	}
	return best, nil
}

// BestScores returns every user's best score in a mode, ranked, with the
// sequence of the entry that first reached it
func (s *Store) BestScores(ctx context.Context, mode domain.Mode) ([]domain.RankEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH firsts AS (
			SELECT user_id, score, seq,
				ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY score DESC, seq ASC) AS rn
			FROM score_entries
			WHERE mode = ?
		)
		SELECT f.user_id, u.username, f.score, f.seq
		FROM firsts f
		JOIN users u ON u.id = f.user_id
		WHERE f.rn = 1
		ORDER BY f.score DESC, f.seq ASC`, string(mode))
	if err != nil {
		return nil, wrap("getting best scores", err)
	}
	defer rows.Close()

	entries := make([]domain.RankEntry, 0)
	for rows.Next() {
		e := domain.RankEntry{Mode: mode}
		if err := rows.Scan(&e.UserID, &e.Username, &e.Score, &e.ReachedSeq); err != nil {
			return nil, fmt.Errorf("scanning best score: %w", err)
		}
		e.Rank = int64(len(entries) + 1)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("getting best scores", err)
	}
	return entries, nil
}

// CountScores returns the number of ledger entries
func (s *Store) CountScores(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM score_entries`).Scan(&n); err != nil {
		return 0, wrap("counting scores", err)
	}
	return n, nil
}

// CountScoresByMode returns the number of ledger entries per mode
func (s *Store) CountScoresByMode(ctx context.Context) (map[domain.Mode]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT mode, COUNT(*) FROM score_entries GROUP BY mode`)
	if err != nil {
		return nil, wrap("counting scores by mode", err)
	}
	defer rows.Close()

	counts := make(map[domain.Mode]int64)
	for rows.Next() {
		var (
			rawMode string
			n       int64
		)
		if err := rows.Scan(&rawMode, &n); err != nil {
			return nil, fmt.Errorf("scanning mode count: %w", err)
		}
		mode, err := domain.ModeFromStorage(rawMode)
		if err != nil {
			return nil, err
		}
		counts[mode] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("counting scores by mode", err)
	}
	return counts, nil
}
