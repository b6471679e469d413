package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache keys.
const DefaultRedisPrefix = "vitrine:cache:"

// Redis is a Store shared by several processes. Each answer is a JSON value
// with a server-side TTL; a sorted set scored by insertion time drives
// oldest-first eviction and a hash keeps hit counts.
type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	logger  *slog.Logger
}

// NewRedis creates a Redis-backed cache. Only WithTTL, WithMaxSize, WithClock
// and WithLogger apply.
func NewRedis(client *redis.Client, prefix string, opts ...Option) *Redis {
	m := NewMemory(opts...)
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{
		client:  client,
		prefix:  prefix,
		ttl:     m.ttl,
		maxSize: m.maxSize,
		now:     m.now,
		logger:  m.logger,
	}
}

func (r *Redis) entryKey(key string) string { return r.prefix + "entry:" + key }
func (r *Redis) indexKey() string          { return r.prefix + "index" }
func (r *Redis) hitsKey() string           { return r.prefix + "hits" }

func (r *Redis) Get(ctx context.Context, query string) (*Entry, bool) {
	key := Normalize(query)

	data, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.forget(ctx, key)
		return nil, false
	}
	if err != nil {
		r.logger.Warn("cache read failed", "query", key, "error", err)
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		r.logger.Warn("dropping unreadable cache entry", "query", key, "error", err)
		r.forget(ctx, key)
		_ = r.client.Del(ctx, r.entryKey(key)).Err()
		return nil, false
	}
	if r.now().Sub(e.Timestamp) > r.ttl {
		r.forget(ctx, key)
		_ = r.client.Del(ctx, r.entryKey(key)).Err()
		return nil, false
	}

	hits, err := r.client.HIncrBy(ctx, r.hitsKey(), key, 1).Result()
	if err != nil {
		r.logger.Warn("cache hit count failed", "query", key, "error", err)
	} else {
		e.Hits = int(hits)
	}
	return &e, true
}

// forget removes key from the index and hit counts.
func (r *Redis) forget(ctx context.Context, key string) {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.indexKey(), key)
		pipe.HDel(ctx, r.hitsKey(), key)
		return nil
	})
	if err != nil {
		r.logger.Warn("cache index cleanup failed", "query", key, "error", err)
	}
}

func (r *Redis) Set(ctx context.Context, query string, entry Entry) error {
	key := Normalize(query)
	now := r.now()

	if err := r.prune(ctx, now); err != nil {
		return err
	}

	_, err := r.client.ZScore(ctx, r.indexKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		size, err := r.client.ZCard(ctx, r.indexKey()).Result()
		if err != nil {
			return fmt.Errorf("failed to read cache size: %w", err)
		}
		if size >= int64(r.maxSize) {
			if err := r.evictOldest(ctx); err != nil {
				return err
			}
		}
	} else if err != nil {
		return fmt.Errorf("failed to read cache index: %w", err)
	}

	entry.Timestamp = now
	entry.Hits = 1
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.entryKey(key), data, r.ttl)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: indexScore(now), Member: key})
		pipe.HSet(ctx, r.hitsKey(), key, 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// indexScore orders the eviction index by insertion time. Microseconds stay
// exact in a float64 score; nanoseconds at current epochs do not.
func indexScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// prune drops index members whose entries are past their TTL.
func (r *Redis) prune(ctx context.Context, now time.Time) error {
	cutoff := strconv.FormatInt(now.Add(-r.ttl).UnixMicro(), 10)
	expired, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: "(" + cutoff}).Result()
	if err != nil {
		return fmt.Errorf("failed to scan expired cache entries: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range expired {
			pipe.Del(ctx, r.entryKey(key))
			pipe.ZRem(ctx, r.indexKey(), key)
			pipe.HDel(ctx, r.hitsKey(), key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to prune expired cache entries: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context) error {
	oldest, err := r.client.ZPopMin(ctx, r.indexKey(), 1).Result()
	if err != nil {
		return fmt.Errorf("failed to evict cache entry: %w", err)
	}
	for _, z := range oldest {
		key, _ := z.Member.(string)
		if err := r.client.Del(ctx, r.entryKey(key)).Err(); err != nil {
			return fmt.Errorf("failed to evict cache entry: %w", err)
		}
		_ = r.client.HDel(ctx, r.hitsKey(), key).Err()
		r.logger.Debug("evicted cache entry", "query", key)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}

	toDelete := []string{r.indexKey(), r.hitsKey()}
	for _, k := range keys {
		toDelete = append(toDelete, r.entryKey(k))
	}
	if err := r.client.Del(ctx, toDelete...).Err(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	now := r.now()
	if err := r.prune(ctx, now); err != nil {
		return Stats{}, err
	}

	members, err := r.client.ZRangeWithScores(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list cache entries: %w", err)
	}
	hits, err := r.client.HGetAll(ctx, r.hitsKey()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read cache hits: %w", err)
	}

	stats := Stats{
		Size:    len(members),
		MaxSize: r.maxSize,
		Entries: make([]EntryStats, 0, len(members)),
	}
	for _, z := range members {
		key, _ := z.Member.(string)
		n, _ := strconv.Atoi(hits[key])
		inserted := time.UnixMicro(int64(z.Score))
		stats.Entries = append(stats.Entries, EntryStats{
			Query: key,
			Hits:  n,
			Age:   now.Sub(inserted).Truncate(time.Second),
		})
	}
	sort.Slice(stats.Entries, func(i, j int) bool {
		return stats.Entries[i].Query < stats.Entries[j].Query
	})
	return stats, nil
}
