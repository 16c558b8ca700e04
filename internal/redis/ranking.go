// Package redis caches each user's best score per mode in sorted sets so the
// top-N and rank queries do not scan the score ledger.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/redis/go-redis/v9"

	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
)

// RankingCache provides Redis-based best-score rankings
type RankingCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRankingCache connects to Redis and returns a RankingCache
func NewRankingCache(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*RankingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, domain.Unavailable("connecting to redis", err)
	}

	return NewRankingCacheWithClient(client, logger), nil
}

// NewRankingCacheWithClient wraps an existing client
func NewRankingCacheWithClient(client *redis.Client, logger *slog.Logger) *RankingCache {
	return &RankingCache{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *RankingCache) Close() error {
	return c.client.Close()
}

// Ping checks that Redis is reachable
func (c *RankingCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return domain.Unavailable("pinging redis", err)
	}
	return nil
}

// rankingKey returns the sorted set holding best scores for a mode
func rankingKey(mode domain.Mode) string {
	return fmt.Sprintf("snake:ranking:%s", string(mode))
}

// playerInfoKey returns the hash caching a user's display name
func playerInfoKey(userID string) string {
	return fmt.Sprintf("snake:player:%s:info", userID)
}

// seqSpan is the room left below each game score for the ledger sequence.
// Sorted-set scores are float64, so member scores stay exact integers while
// the game score is below 2^21 and the sequence below 2^32.
const seqSpan = 1 << 32

// memberScore packs a best score and the sequence of the entry that reached
// it so that higher scores sort first and, among equal scores, the earlier
// entry does. Unknown or out-of-range sequences sort last within the score.
func memberScore(score int, seq int64) float64 {
	var tie int64
	if seq > 0 && seq < seqSpan {
		tie = seqSpan - 1 - seq
	}
	return float64(score)*seqSpan + float64(tie)
}

// gameScore recovers the game score from a member score.
func gameScore(v float64) int {
	return int(math.Floor(v / seqSpan))
}

// SetScoreIfBetter records score, reached by the ledger entry seq, as the
// user's best in mode unless the cached best is higher or was reached
// earlier. It reports whether the cached best changed.
func (c *RankingCache) SetScoreIfBetter(ctx context.Context, mode domain.Mode, userID, username string, score int, seq int64) (bool, error) {
	pipe := c.client.TxPipeline()
	changed := pipe.ZAddArgs(ctx, rankingKey(mode), redis.ZAddArgs{
		GT:      true,
		Ch:      true,
		Members: []redis.Z{{Score: memberScore(score, seq), Member: userID}},
	})
	pipe.HSet(ctx, playerInfoKey(userID), "username", username)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("setting best score: %w", err)
	}
	return changed.Val() > 0, nil
}

// GetTopN returns the n best users in mode, highest first
func (c *RankingCache) GetTopN(ctx context.Context, mode domain.Mode, n int) ([]domain.RankEntry, error) {
	if n <= 0 {
		return []domain.RankEntry{}, nil
	}
	results, err := c.client.ZRevRangeWithScores(ctx, rankingKey(mode), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	entries := make([]domain.RankEntry, len(results))
	for i, result := range results {
		entries[i] = domain.RankEntry{
			Rank:   int64(i + 1),
			UserID: result.Member.(string),
			Score:  gameScore(result.Score),
			Mode:   mode,
		}
	}
	if err := c.fillUsernames(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *RankingCache) fillUsernames(ctx context.Context, entries []domain.RankEntry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(entries))
	for i, e := range entries {
		cmds[i] = pipe.HGet(ctx, playerInfoKey(e.UserID), "username")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("getting usernames: %w", err)
	}
	for i, cmd := range cmds {
		entries[i].Username = cmd.Val()
	}
	return nil
}

// GetPlayerRank returns a user's 1-based rank and best score in mode
func (c *RankingCache) GetPlayerRank(ctx context.Context, mode domain.Mode, userID string) (*domain.RankEntry, error) {
	key := rankingKey(mode)

	// Use pipeline to get rank, score and name together
	pipe := c.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, key, userID)
	scoreCmd := pipe.ZScore(ctx, key, userID)
	nameCmd := pipe.HGet(ctx, playerInfoKey(userID), "username")
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("getting player rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrRankNotFound
		}
		return nil, fmt.Errorf("getting rank result: %w", err)
	}

	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}

	return &domain.RankEntry{
		Rank:     rank + 1, // Convert 0-indexed to 1-indexed
		UserID:   userID,
		Username: nameCmd.Val(),
		Score:    gameScore(score),
		Mode:     mode,
	}, nil
}

// GetCount returns the number of ranked users in mode
func (c *RankingCache) GetCount(ctx context.Context, mode domain.Mode) (int64, error) {
	count, err := c.client.ZCard(ctx, rankingKey(mode)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// RemoveUser drops a user from every mode's ranking
func (c *RankingCache) RemoveUser(ctx context.Context, userID string) error {
	pipe := c.client.TxPipeline()
	for _, mode := range domain.Modes {
		pipe.ZRem(ctx, rankingKey(mode), userID)
	}
	pipe.Del(ctx, playerInfoKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing user: %w", err)
	}
	return nil
}

// Rebuild atomically replaces the ranking for mode with entries
func (c *RankingCache) Rebuild(ctx context.Context, mode domain.Mode, entries []domain.RankEntry) error {
	key := rankingKey(mode)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(entries) > 0 {
		members := make([]redis.Z, len(entries))
		for i, e := range entries {
			members[i] = redis.Z{Score: memberScore(e.Score, e.ReachedSeq), Member: e.UserID}
			pipe.HSet(ctx, playerInfoKey(e.UserID), "username", e.Username)
		}
		pipe.ZAdd(ctx, key, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuilding ranking: %w", err)
	}
	c.logger.Debug("ranking rebuilt", "mode", mode.String(), "users", len(entries))
	return nil
}
