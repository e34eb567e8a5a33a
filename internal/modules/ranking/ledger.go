// README: Driver leaderboard of completed-trip counts (Redis sorted set or in-process).
package ranking

import (
	"context"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"ridecore/internal/types"
)

const leaderboardKey = "ranking:drivers:completed"

type Entry struct {
	DriverID types.ID `json:"driver_id"`
	Score    int64    `json:"score"`
}

// Ledger keeps a monotonic completion counter per driver.
type Ledger interface {
	RecordCompletion(ctx context.Context, driverID types.ID) error
	// TopN returns up to n entries by descending score. Tie order is unspecified.
	TopN(ctx context.Context, n int) ([]Entry, error)
}

type RedisLedger struct {
	redis *redis.Client
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{redis: rdb}
}

func (l *RedisLedger) RecordCompletion(ctx context.Context, driverID types.ID) error {
	return l.redis.ZIncrBy(ctx, leaderboardKey, 1, string(driverID)).Err()
}

func (l *RedisLedger) TopN(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}
	zs, err := l.redis.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, Entry{DriverID: types.ID(member), Score: int64(z.Score)})
	}
	return out, nil
}

type MemoryLedger struct {
	mu     sync.Mutex
	scores map[types.ID]int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{scores: make(map[types.ID]int64)}
}

func (l *MemoryLedger) RecordCompletion(_ context.Context, driverID types.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scores[driverID]++
	return nil
}

func (l *MemoryLedger) TopN(_ context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}
	l.mu.Lock()
	out := make([]Entry, 0, len(l.scores))
	for id, score := range l.scores {
		out = append(out, Entry{DriverID: id, Score: score})
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DriverID < out[j].DriverID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}
