package semcache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/modelgate/modelgate/core"
)

// MemoryCache is the in-process cache implementation. A single
// read-write lock guards the entry table; no lock is held across any
// external call.
type MemoryCache struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	capacity int

	hits          int64
	misses        int64
	evictions     int64
	expired       int64
	hitSimTotal   float64
	hitSimSamples int64

	now func() time.Time
}

// NewMemoryCache creates a cache bounded to capacity entries.
// Non-positive capacity applies DefaultCapacity.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryCache{
		entries:  make(map[string]*Entry),
		capacity: capacity,
		now:      time.Now,
	}
}

// Search ranks non-expired, filter-matching entries by cosine similarity
func (c *MemoryCache) Search(_ context.Context, embedding []float32, params SearchParams) ([]Match, error) {
	nowSec := c.now().Unix()
	minSim := params.minSimilarity()

	c.mu.RLock()
	var matches []Match
	for _, entry := range c.entries {
		if entry.IsExpired(nowSec) || !params.matches(entry) {
			continue
		}
		sim := CosineSimilarity(embedding, entry.Embedding)
		if sim >= minSim {
			// hand out a copy: RecordHit mutates the stored entry under
			// the lock while callers may still hold the match
			snapshot := *entry
			matches = append(matches, Match{Entry: &snapshot, Similarity: sim})
		}
	}
	c.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if limit := params.limit(); len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FindSimilar returns the best match, or nil when nothing clears the floor
func (c *MemoryCache) FindSimilar(ctx context.Context, embedding []float32, params SearchParams) (*Match, error) {
	params.Limit = 1
	matches, err := c.Search(ctx, embedding, params)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return &matches[0], nil
}

// Store inserts an entry, evicting the oldest entry per overflow
func (c *MemoryCache) Store(_ context.Context, entry *Entry) error {
	if entry.ID == "" {
		return core.NewValidationError("cache entry id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.entries) >= c.capacity {
		if _, exists := c.entries[entry.ID]; exists {
			break // overwrite, no growth
		}
		c.evictOldestLocked()
	}
	c.entries[entry.ID] = entry
	return nil
}

// evictOldestLocked removes the entry with the smallest created_at
func (c *MemoryCache) evictOldestLocked() {
	var oldestID string
	var oldestAt int64
	for id, entry := range c.entries {
		if oldestID == "" || entry.CreatedAtSec < oldestAt {
			oldestID = id
			oldestAt = entry.CreatedAtSec
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
		c.evictions++
	}
}

// Get returns an entry by id
func (c *MemoryCache) Get(_ context.Context, id string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	if !ok {
		return nil, core.NewNotFoundError("semcache.Get", id)
	}
	return entry, nil
}

// Delete removes an entry by id; absent ids are not an error
func (c *MemoryCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

// DeleteByModel removes every entry cached for the model
func (c *MemoryCache) DeleteByModel(_ context.Context, modelID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, entry := range c.entries {
		if entry.ModelID == modelID {
			delete(c.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Clear drops all entries; counters are preserved
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	return nil
}

// Stats snapshots the counters
func (c *MemoryCache) Stats(_ context.Context) (*Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := &Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
		Size:      len(c.entries),
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	if c.hitSimSamples > 0 {
		stats.AvgHitSimilarity = c.hitSimTotal / float64(c.hitSimSamples)
	}
	return stats, nil
}

// Size returns the number of live entries
func (c *MemoryCache) Size(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

// RecordHit counts a served lookup against the entry and the cache
func (c *MemoryCache) RecordHit(_ context.Context, id string, similarity float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits++
	c.hitSimTotal += similarity
	c.hitSimSamples++
	if entry, ok := c.entries[id]; ok {
		entry.HitCount++
	}
	return nil
}

// RecordMiss counts a lookup that found nothing
func (c *MemoryCache) RecordMiss(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.misses++
	return nil
}

// CleanupExpired removes expired entries and returns the count purged.
// Idempotent: a second call purges nothing unless more entries expired
// in between.
func (c *MemoryCache) CleanupExpired(_ context.Context) (int, error) {
	nowSec := c.now().Unix()

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, entry := range c.entries {
		if entry.IsExpired(nowSec) {
			delete(c.entries, id)
			removed++
		}
	}
	c.expired += int64(removed)
	return removed, nil
}

var _ Cache = (*MemoryCache)(nil)
