package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "fpserver:http-cache:"

// RedisCache is a Cache shared through Redis, so several bot processes on one
// host reuse each other's GET responses. Entry bodies expire via Redis TTLs and
// a sorted-set index keeps the entry count bounded, oldest capture evicted first.
type RedisCache struct {
	rdb        redis.UniversalClient
	ttl        time.Duration
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time
}

// NewRedisCache creates a RedisCache on top of an existing client.
func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration, maxEntries int, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &RedisCache{
		rdb:        rdb,
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logger,
		now:        time.Now,
	}
}

// Get returns a fresh entry for key. Redis errors degrade to a miss.
func (r *RedisCache) Get(ctx context.Context, key string) (Entry, bool) {
	data, err := r.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis cache get failed", "error", err)
		}
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		r.logger.Warn("redis cache entry corrupt", "error", err)
		r.rdb.Del(ctx, redisKeyPrefix+key)
		return Entry{}, false
	}
	if r.now().Sub(e.CapturedAt) >= r.ttl {
		return Entry{}, false
	}
	return e, true
}

// Set stores e under key and trims the index back to maxEntries.
func (r *RedisCache) Set(ctx context.Context, key string, e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		r.logger.Warn("redis cache encode failed", "error", err)
		return
	}

	index := redisKeyPrefix + "index"
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+key, data, r.ttl)
	pipe.ZAdd(ctx, index, redis.Z{Score: float64(e.CapturedAt.UnixMilli()), Member: key})
	pipe.ZRemRangeByScore(ctx, index, "-inf", formatScore(r.now().Add(-r.ttl)))
	card := pipe.ZCard(ctx, index)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("redis cache set failed", "error", err)
		return
	}

	overflow := card.Val() - int64(r.maxEntries)
	if overflow <= 0 {
		return
	}
	evicted, err := r.rdb.ZPopMin(ctx, index, overflow).Result()
	if err != nil {
		r.logger.Warn("redis cache trim failed", "error", err)
		return
	}
	keys := make([]string, 0, len(evicted))
	for _, z := range evicted {
		if member, ok := z.Member.(string); ok {
			keys = append(keys, redisKeyPrefix+member)
		}
	}
	if len(keys) > 0 {
		r.rdb.Del(ctx, keys...)
	}
}

func formatScore(t time.Time) string {
	return "(" + strconv.FormatInt(t.UnixMilli(), 10)
}
