package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/storage"
)

const pgUniqueViolation = "23505"

// Repository provides PostgreSQL-based user and score storage
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ storage.Store = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	return newRepository(ctx, cfg.ConnectionString(), cfg, logger)
}

func newRepository(ctx context.Context, url string, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, domain.Unavailable("connecting to database", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks that the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return domain.Unavailable("pinging database", err)
	}
	return nil
}

// wrap reports connection failures as unavailable and annotates the rest.
func wrap(op string, err error) error {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return domain.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

const userColumns = `id, username, email, password_hash, is_superuser, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsSuperuser, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// CreateUser inserts a new user
func (r *Repository) CreateUser(ctx context.Context, username, email, passwordHash string) (*domain.User, error) {
	query := `
		INSERT INTO users (id, username, email, password_hash, is_superuser, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, query, uuid.NewString(), username, email, passwordHash, time.Now().UTC()))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			if pgErr.ConstraintName == "users_username_key" {
				return nil, domain.ErrUsernameTaken
			}
			return nil, domain.ErrEmailTaken
		}
		return nil, wrap("creating user", err)
	}
	return u, nil
}

func (r *Repository) userBy(ctx context.Context, where string, arg any) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, wrap("getting user", err)
	}
	return u, nil
}

// UserByEmail looks a user up by email, case-insensitively
func (r *Repository) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.userBy(ctx, `lower(email) = lower($1)`, email)
}

// UserByID looks a user up by id
func (r *Repository) UserByID(ctx context.Context, id string) (*domain.User, error) {
	return r.userBy(ctx, `id = $1`, id)
}

// UserByUsername looks a user up by username
func (r *Repository) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.userBy(ctx, `username = $1`, username)
}

// PasswordHash returns the stored bcrypt hash for a user
func (r *Repository) PasswordHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := r.pool.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrUserNotFound
		}
		return "", wrap("getting password hash", err)
	}
	return hash, nil
}

// ListUsers returns users in signup order. A non-positive limit returns all remaining users.
func (r *Repository) ListUsers(ctx context.Context, offset, limit int) ([]domain.User, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limitArg, offset)
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
func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, wrap("counting users", err)
	}
	return count, nil
}

// DeleteUser removes a user; score entries go with it by cascade
func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return wrap("deleting user", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// SubmitScore appends an entry to the ledger
func (r *Repository) SubmitScore(ctx context.Context, userID, username string, score int, mode domain.Mode) (*domain.ScoreEntry, error) {
	query := `
		INSERT INTO score_entries (id, user_id, username, score, mode, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`
	e := domain.ScoreEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		Score:     score,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
	}
	err := r.pool.QueryRow(ctx, query, e.ID, userID, username, score, string(mode), e.CreatedAt).Scan(&e.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, domain.ErrUserNotFound
		}
		return nil, wrap("submitting score", err)
	}
	return &e, nil
}

// Scores returns ledger entries, best first, ties in submission order
func (r *Repository) Scores(ctx context.Context, mode *domain.Mode) ([]domain.ScoreEntry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if mode == nil {
		rows, err = r.pool.Query(ctx, `
			SELECT id, user_id, username, score, mode, created_at, seq
			FROM score_entries
			ORDER BY score DESC, seq ASC
		`)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT id, user_id, username, score, mode, created_at, seq
			FROM score_entries
			WHERE mode = $1
			ORDER BY score DESC, seq ASC
		`, string(*mode))
	}
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
func (r *Repository) HighScore(ctx context.Context, userID string, mode *domain.Mode) (int, error) {
	var best int
	var err error
	if mode == nil {
		err = r.pool.QueryRow(ctx,
			`SELECT COALESCE(MAX(score), 0) FROM score_entries WHERE user_id = $1`,
			userID).Scan(&best)
	} else {
		err = r.pool.QueryRow(ctx,
			`SELECT COALESCE(MAX(score), 0) FROM score_entries WHERE user_id = $1 AND mode = $2`,
			userID, string(*mode)).Scan(&best)
	}
	if err != nil {
		return 0, wrap("getting high score", err)
	}
	return best, nil
}

// BestScores returns every user's best score in a mode, ranked, with the
// sequence of the entry that first reached it
func (r *Repository) BestScores(ctx context.Context, mode domain.Mode) ([]domain.RankEntry, error) {
	query := `
		WITH firsts AS (
			SELECT user_id, score, seq,
				ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY score DESC, seq ASC) AS rn
			FROM score_entries
			WHERE mode = $1
		)
		SELECT f.user_id, u.username, f.score, f.seq
		FROM firsts f
		JOIN users u ON u.id = f.user_id
		WHERE f.rn = 1
		ORDER BY f.score DESC, f.seq ASC
	`
	rows, err := r.pool.Query(ctx, query, string(mode))
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
func (r *Repository) CountScores(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM score_entries`).Scan(&count); err != nil {
		return 0, wrap("counting scores", err)
	}
	return count, nil
}

// CountScoresByMode returns the number of ledger entries per mode
func (r *Repository) CountScoresByMode(ctx context.Context) (map[domain.Mode]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT mode, COUNT(*) FROM score_entries GROUP BY mode`)
	if err != nil {
		return nil, wrap("counting scores by mode", err)
	}
	defer rows.Close()

	counts := make(map[domain.Mode]int64)
	for rows.Next() {
		var (
			rawMode string
			count   int64
		)
		if err := rows.Scan(&rawMode, &count); err != nil {
			return nil, fmt.Errorf("scanning mode count: %w", err)
		}
		mode, err := domain.ModeFromStorage(rawMode)
		if err != nil {
			return nil, err
		}
		counts[mode] = count
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("counting scores by mode", err)
	}
	return counts, nil
}

// SetSuperuser grants or revokes administrator rights
func (r *Repository) SetSuperuser(ctx context.Context, id string, v bool) error {
	result, err := r.pool.Exec(ctx, `UPDATE users SET is_superuser = $2 WHERE id = $1`, id, v)
	if err != nil {
		return wrap("updating superuser flag", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
