package summaries

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/gpu-mode/kernelboard/internal/rankings"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "lb_top_users:"

// TopUsersCache stores the top users of concluded leaderboards.
// Implementations degrade failures to misses and never return errors.
type TopUsersCache interface {
	Get(ctx context.Context, leaderboardIDs []int64) map[int64][]rankings.TopUser
	Set(ctx context.Context, leaderboardID int64, topUsers []rankings.TopUser)
	Invalidate(ctx context.Context, leaderboardIDs []int64)
}

// NewRedisClient parses a redis:// or rediss:// URL into a client.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("summaries: parse redis url: %w", err)
	}
	return redis.NewClient(options), nil
}

// ResultCache keeps permanent top-user lists in Redis. A nil client disables it.
type ResultCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewResultCache wraps client; client may be nil.
func NewResultCache(client *redis.Client, logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{client: client, logger: logger}
}

func cacheKey(leaderboardID int64) string {
	return cacheKeyPrefix + strconv.FormatInt(leaderboardID, 10)
}

func cacheKeys(leaderboardIDs []int64) []string {
	keys := make([]string, 0, len(leaderboardIDs))
	for _, id := range leaderboardIDs {
		keys = append(keys, cacheKey(id))
	}
	return keys
}

// Get returns the cached lists that exist. Unreadable entries count as misses.
func (c *ResultCache) Get(ctx context.Context, leaderboardIDs []int64) map[int64][]rankings.TopUser {
	result := make(map[int64][]rankings.TopUser)
	if c.client == nil || len(leaderboardIDs) == 0 {
		return result
	}
	values, err := c.client.MGet(ctx, cacheKeys(leaderboardIDs)...).Result()
	if err != nil {
		c.logger.Warn("redis cache read failed", zap.Error(err))
		return result
	}
	for index, value := range values {
		raw, ok := value.(string)
		if !ok || raw == "" {
			continue
		}
		var topUsers []rankings.TopUser
		if err := sonnet.Unmarshal([]byte(raw), &topUsers); err != nil {
			c.logger.Warn("redis cache entry unreadable",
				zap.Int64("leaderboard_id", leaderboardIDs[index]),
				zap.Error(err))
			continue
		}
		result[leaderboardIDs[index]] = topUsers
	}
	return result
}

// Set stores topUsers without expiry.
func (c *ResultCache) Set(ctx context.Context, leaderboardID int64, topUsers []rankings.TopUser) {
	if c.client == nil {
		return
	}
	encoded, err := sonnet.Marshal(topUsers)
	if err != nil {
		c.logger.Warn("redis cache encode failed", zap.Int64("leaderboard_id", leaderboardID), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cacheKey(leaderboardID), encoded, 0).Err(); err != nil {
		c.logger.Warn("redis cache write failed", zap.Int64("leaderboard_id", leaderboardID), zap.Error(err))
	}
}

// Invalidate deletes the entries of leaderboardIDs.
func (c *ResultCache) Invalidate(ctx context.Context, leaderboardIDs []int64) {
	if c.client == nil || len(leaderboardIDs) == 0 {
		return
	}
	if err := c.client.Del(ctx, cacheKeys(leaderboardIDs)...).Err(); err != nil {
		c.logger.Warn("redis cache delete failed", zap.Int64s("leaderboard_ids", leaderboardIDs), zap.Error(err))
	}
}
