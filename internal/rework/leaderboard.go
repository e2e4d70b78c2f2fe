package rework

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
)

// leaderboardKey is the per-rework sorted-set key, matching
// original_source/src/processor/mod.rs's ZADD target.
func leaderboardKey(reworkID int32) string {
	return fmt.Sprintf("rework:leaderboard:%d", reworkID)
}

// RedisLeaderboard implements processor.Leaderboard against the
// rework:leaderboard:{id} ZSET.
type RedisLeaderboard struct {
	redis *redis.Client
}

// NewRedisLeaderboard builds a RedisLeaderboard over an already-connected
// client.
func NewRedisLeaderboard(client *redis.Client) *RedisLeaderboard {
	return &RedisLeaderboard{redis: client}
}

// ZAdd records a user's new_pp in the rework's leaderboard.
func (l *RedisLeaderboard) ZAdd(ctx context.Context, reworkID int32, userID int32, pp float64) error {
	err := l.redis.ZAdd(ctx, leaderboardKey(reworkID), redis.Z{Score: pp, Member: fmt.Sprintf("%d", userID)}).Err()
	if err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to update rework leaderboard", err)
	}
	return nil
}

// ZRem removes a user from the rework's leaderboard, used by
// individual-recalc's reset path (original_source/src/individual_recalc/
// mod.rs).
func (l *RedisLeaderboard) ZRem(ctx context.Context, reworkID, userID int32) error {
	if err := l.redis.ZRem(ctx, leaderboardKey(reworkID), fmt.Sprintf("%d", userID)).Err(); err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to remove user from rework leaderboard", err)
	}
	return nil
}

// Delete clears a rework's entire leaderboard, used by mass-recalc's
// reset path.
func (l *RedisLeaderboard) Delete(ctx context.Context, reworkID int32) error {
	if err := l.redis.Del(ctx, leaderboardKey(reworkID)).Err(); err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to delete rework leaderboard", err)
	}
	return nil
}

// Rank reports a user's 0-indexed descending rank in the rework's
// leaderboard, matching api/routes/reworks/user.rs's ZREVRANK lookup.
// ok is false if the user has no entry.
func (l *RedisLeaderboard) Rank(ctx context.Context, reworkID, userID int32) (rank uint64, ok bool, err error) {
	r, err := l.redis.ZRevRank(ctx, leaderboardKey(reworkID), fmt.Sprintf("%d", userID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.Wrap(apperrors.DependencyFailed, "failed to read rework leaderboard rank", err)
	}
	return uint64(r), true, nil
}

// LiveRank reports a user's 0-indexed descending rank in a live ripple:*
// leaderboard, matching api/routes/reworks/user.rs's parallel lookup
// against the production board.
func (l *RedisLeaderboard) LiveRank(ctx context.Context, mode, rx, userID int32) (rank uint64, ok bool, err error) {
	leaderboardName := map[int32]string{0: "leaderboard", 1: "relaxboard", 2: "autoboard"}[rx]
	statsPrefix := map[int32]string{0: "std", 1: "taiko", 2: "ctb", 3: "mania"}[mode]
	key := fmt.Sprintf("ripple:%s:%s", leaderboardName, statsPrefix)

	r, err := l.redis.ZRevRank(ctx, key, fmt.Sprintf("%d", userID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.Wrap(apperrors.DependencyFailed, "failed to read live leaderboard rank", err)
	}
	return uint64(r), true, nil
}
