package semcache

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/modelgate/modelgate/core"
)

const (
	redisEntryPrefix = "semcache:entry:"
	redisHitsKey     = "semcache:stats:hits"
	redisMissesKey   = "semcache:stats:misses"
	redisExpiredKey  = "semcache:stats:expired"
	redisSimTotalKey = "semcache:stats:hit_sim_total"
	redisSimCountKey = "semcache:stats:hit_sim_count"
)

// RedisCache is the out-of-process cache variant, for deployments where
// several gateway replicas share one cache. Redis owns expiry through
// per-key TTLs; similarity is still computed client-side, so the entry
// population should stay modest.
type RedisCache struct {
	client *redis.Client
	logger core.Logger
	now    func() time.Time
}

// NewRedisCache creates a cache over an existing Redis client
func NewRedisCache(client *redis.Client, logger core.Logger) *RedisCache {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisCache{client: client, logger: logger, now: time.Now}
}

func (c *RedisCache) loadAll(ctx context.Context) ([]*Entry, error) {
	var entries []*Entry
	iter := c.client.Scan(ctx, 0, redisEntryPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := c.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, core.NewStorageError("semcache.redis.Get", err)
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			c.logger.Warn("Dropping undecodable cache entry", map[string]interface{}{
				"operation": "semcache_decode",
				"key":       iter.Val(),
				"error":     err.Error(),
			})
			continue
		}
		entries = append(entries, &entry)
	}
	if err := iter.Err(); err != nil {
		return nil, core.NewStorageError("semcache.redis.Scan", err)
	}
	return entries, nil
}

// Search ranks non-expired, filter-matching entries by cosine similarity
func (c *RedisCache) Search(ctx context.Context, embedding []float32, params SearchParams) ([]Match, error) {
	entries, err := c.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	nowSec := c.now().Unix()
	minSim := params.minSimilarity()
	var matches []Match
	for _, entry := range entries {
		if entry.IsExpired(nowSec) || !params.matches(entry) {
			continue
		}
		sim := CosineSimilarity(embedding, entry.Embedding)
		if sim >= minSim {
			matches = append(matches, Match{Entry: entry, Similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if limit := params.limit(); len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FindSimilar returns the best match, or nil when nothing clears the floor
func (c *RedisCache) FindSimilar(ctx context.Context, embedding []float32, params SearchParams) (*Match, error) {
	params.Limit = 1
	matches, err := c.Search(ctx, embedding, params)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return &matches[0], nil
}

// Store writes an entry with a TTL matching its absolute expiry
func (c *RedisCache) Store(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		return core.NewValidationError("cache entry id is required")
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return core.NewInternalError("semcache.redis.Store", err)
	}
	ttl := time.Duration(entry.ExpiresAtSec-c.now().Unix()) * time.Second
	if ttl <= 0 {
		return nil // already expired, nothing to keep
	}
	if err := c.client.Set(ctx, redisEntryPrefix+entry.ID, raw, ttl).Err(); err != nil {
		return core.NewStorageError("semcache.redis.Set", err)
	}
	return nil
}

// Get returns an entry by id
func (c *RedisCache) Get(ctx context.Context, id string) (*Entry, error) {
	raw, err := c.client.Get(ctx, redisEntryPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, core.NewNotFoundError("semcache.redis.Get", id)
	}
	if err != nil {
		return nil, core.NewStorageError("semcache.redis.Get", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, core.NewInternalError("semcache.redis.Get", err)
	}
	return &entry, nil
}

// Delete removes an entry by id; absent ids are not an error
func (c *RedisCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, redisEntryPrefix+id).Err(); err != nil {
		return core.NewStorageError("semcache.redis.Del", err)
	}
	return nil
}

// DeleteByModel removes every entry cached for the model
func (c *RedisCache) DeleteByModel(ctx context.Context, modelID string) (int, error) {
	entries, err := c.loadAll(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.ModelID == modelID {
			if err := c.Delete(ctx, entry.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Clear drops all entries; counters are preserved
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisEntryPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return core.NewStorageError("semcache.redis.Del", err)
		}
	}
	if err := iter.Err(); err != nil {
		return core.NewStorageError("semcache.redis.Scan", err)
	}
	return nil
}

// Stats snapshots the shared counters
func (c *RedisCache) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	var simTotal float64
	var simCount int64
	for _, item := range []struct {
		key  string
		intv *int64
		fltv *float64
	}{
		{key: redisHitsKey, intv: &stats.Hits},
		{key: redisMissesKey, intv: &stats.Misses},
		{key: redisExpiredKey, intv: &stats.Expired},
		{key: redisSimCountKey, intv: &simCount},
		{key: redisSimTotalKey, fltv: &simTotal},
	} {
		val, err := c.client.Get(ctx, item.key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, core.NewStorageError("semcache.redis.Stats", err)
		}
		if item.intv != nil {
			if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
				*item.intv = parsed
			}
		} else {
			if parsed, err := strconv.ParseFloat(val, 64); err == nil {
				*item.fltv = parsed
			}
		}
	}

	size, err := c.Size(ctx)
	if err != nil {
		return nil, err
	}
	stats.Size = size
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if simCount > 0 {
		stats.AvgHitSimilarity = simTotal / float64(simCount)
	}
	return stats, nil
}

// Size counts the live entries
func (c *RedisCache) Size(ctx context.Context) (int, error) {
	count := 0
	iter := c.client.Scan(ctx, 0, redisEntryPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, core.NewStorageError("semcache.redis.Scan", err)
	}
	return count, nil
}

// RecordHit counts a served lookup against the entry and the cache
func (c *RedisCache) RecordHit(ctx context.Context, id string, similarity float64) error {
	if err := c.client.Incr(ctx, redisHitsKey).Err(); err != nil {
		return core.NewStorageError("semcache.redis.RecordHit", err)
	}
	if err := c.client.IncrByFloat(ctx, redisSimTotalKey, similarity).Err(); err != nil {
		return core.NewStorageError("semcache.redis.RecordHit", err)
	}
	if err := c.client.Incr(ctx, redisSimCountKey).Err(); err != nil {
		return core.NewStorageError("semcache.redis.RecordHit", err)
	}

	// bump the entry's own hit count in place, preserving its TTL
	entry, err := c.Get(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}
	entry.HitCount++
	return c.Store(ctx, entry)
}

// RecordMiss counts a lookup that found nothing
func (c *RedisCache) RecordMiss(ctx context.Context) error {
	if err := c.client.Incr(ctx, redisMissesKey).Err(); err != nil {
		return core.NewStorageError("semcache.redis.RecordMiss", err)
	}
	return nil
}

// CleanupExpired is close to a no-op for Redis: per-key TTLs already
// purge expired entries. It counts and removes any entry whose logical
// expiry passed but whose key TTL has not fired yet.
func (c *RedisCache) CleanupExpired(ctx context.Context) (int, error) {
	entries, err := c.loadAll(ctx)
	if err != nil {
		return 0, err
	}
	nowSec := c.now().Unix()
	removed := 0
	for _, entry := range entries {
		if entry.IsExpired(nowSec) {
			if err := c.Delete(ctx, entry.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if removed > 0 {
		if err := c.client.IncrBy(ctx, redisExpiredKey, int64(removed)).Err(); err != nil {
			return removed, core.NewStorageError("semcache.redis.CleanupExpired", err)
		}
	}
	return removed, nil
}

var _ Cache = (*RedisCache)(nil)
