// README: Presence registry backed by Redis sets with key expiry.
package presence

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ridecore/internal/types"
)

const presenceKeyPrefix = "presence:user:"

type RedisRegistry struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRegistry{redis: rdb, ttl: ttl}
}

func presenceKey(userID types.ID) string {
	return presenceKeyPrefix + string(userID)
}

func (r *RedisRegistry) AddConnection(ctx context.Context, userID types.ID, handleID string) error {
	key := presenceKey(userID)
	pipe := r.redis.TxPipeline()
	pipe.SAdd(ctx, key, handleID)
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveConnection drops one handle. Redis deletes the set together with its last member.
func (r *RedisRegistry) RemoveConnection(ctx context.Context, userID types.ID, handleID string) error {
	return r.redis.SRem(ctx, presenceKey(userID), handleID).Err()
}

func (r *RedisRegistry) Refresh(ctx context.Context, userID types.ID) error {
	return r.redis.Expire(ctx, presenceKey(userID), r.ttl).Err()
}

func (r *RedisRegistry) ListConnections(ctx context.Context, userID types.ID) ([]string, error) {
	handles, err := r.redis.SMembers(ctx, presenceKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(handles)
	return handles, nil
}

func (r *RedisRegistry) ListUsers(ctx context.Context) ([]types.ID, error) {
	var (
		cursor uint64
		out    []types.ID
	)
	for {
		keys, next, err := r.redis.Scan(ctx, cursor, presenceKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			out = append(out, types.ID(strings.TrimPrefix(k, presenceKeyPrefix)))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
