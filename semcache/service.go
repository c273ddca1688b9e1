package semcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/config"
	"github.com/modelgate/modelgate/core"
)

// Service enforces the cacheability rules over the raw cache: query-text
// extraction, streaming gating, optional model/temperature keying, and
// exactly one hit-or-miss record per lookup. An embedding failure
// degrades to a miss; it never fails the request.
type Service struct {
	cache    Cache
	embedder EmbeddingProvider
	cfg      config.SemanticCacheConfig
	logger   core.Logger
	now      func() time.Time
	newID    func() string
}

// NewService creates the caching layer over a cache and an embedder
func NewService(cache Cache, embedder EmbeddingProvider, cfg config.SemanticCacheConfig, logger core.Logger) *Service {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Service{
		cache:    cache,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Cacheable reports whether the request may use the cache at all
func (s *Service) Cacheable(req *core.ChatRequest) bool {
	if !s.cfg.Enabled || s.embedder == nil {
		return false
	}
	if req.Stream && !s.cfg.CacheStreaming {
		return false
	}
	return req.UserQueryText() != ""
}

// Hit is a served cache lookup
type Hit struct {
	Response   *core.ChatResponse
	Similarity float64
	EntryID    string
}

// Lookup searches for a semantically equivalent cached response. The
// second return is false on miss; misses and degraded paths never
// surface errors to the completion path.
func (s *Service) Lookup(ctx context.Context, req *core.ChatRequest, modelID string) (*Hit, bool) {
	if !s.Cacheable(req) {
		return nil, false
	}

	query := req.UserQueryText()
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("Embedding generation failed, treating as cache miss", map[string]interface{}{
			"operation": "semcache_lookup",
			"error":     err.Error(),
		})
		_ = s.cache.RecordMiss(ctx)
		return nil, false
	}

	match, err := s.cache.FindSimilar(ctx, embedding, s.searchParams(req, modelID))
	if err != nil {
		s.logger.Warn("Cache search failed, treating as cache miss", map[string]interface{}{
			"operation": "semcache_lookup",
			"error":     err.Error(),
		})
		_ = s.cache.RecordMiss(ctx)
		return nil, false
	}
	if match == nil {
		_ = s.cache.RecordMiss(ctx)
		return nil, false
	}

	var resp core.ChatResponse
	if err := json.Unmarshal(match.Entry.SerializedResponse, &resp); err != nil {
		s.logger.Warn("Dropping undecodable cached response", map[string]interface{}{
			"operation": "semcache_lookup",
			"entry_id":  match.Entry.ID,
			"error":     err.Error(),
		})
		_ = s.cache.Delete(ctx, match.Entry.ID)
		_ = s.cache.RecordMiss(ctx)
		return nil, false
	}

	_ = s.cache.RecordHit(ctx, match.Entry.ID, match.Similarity)
	s.logger.Debug("Semantic cache hit", map[string]interface{}{
		"operation":  "semcache_lookup",
		"entry_id":   match.Entry.ID,
		"similarity": match.Similarity,
	})
	return &Hit{Response: &resp, Similarity: match.Similarity, EntryID: match.Entry.ID}, true
}

// Store caches a completed response for future lookups. Failures are
// logged and swallowed.
func (s *Service) Store(ctx context.Context, req *core.ChatRequest, modelID string, resp *core.ChatResponse) {
	if !s.Cacheable(req) {
		return
	}

	query := req.UserQueryText()
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("Embedding generation failed, response not cached", map[string]interface{}{
			"operation": "semcache_store",
			"error":     err.Error(),
		})
		return
	}

	serialized, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("Response serialization failed, not cached", map[string]interface{}{
			"operation": "semcache_store",
			"error":     err.Error(),
		})
		return
	}

	nowSec := s.now().Unix()
	entry := &Entry{
		ID:                 s.newID(),
		Embedding:          embedding,
		QueryText:          query,
		SerializedResponse: serialized,
		CreatedAtSec:       nowSec,
		ExpiresAtSec:       nowSec + s.ttlSeconds(),
	}
	if s.cfg.IncludeModelInKey {
		entry.ModelID = modelID
	}
	if s.cfg.IncludeTemperatureKey && req.Temperature != nil {
		t := *req.Temperature
		entry.Temperature = &t
	}

	if err := s.cache.Store(ctx, entry); err != nil {
		s.logger.Warn("Cache store failed", map[string]interface{}{
			"operation": "semcache_store",
			"error":     err.Error(),
		})
	}
}

func (s *Service) searchParams(req *core.ChatRequest, modelID string) SearchParams {
	params := SearchParams{MinSimilarity: s.cfg.SimilarityThreshold}
	if s.cfg.IncludeModelInKey {
		params.ModelID = modelID
	}
	if s.cfg.IncludeTemperatureKey && req.Temperature != nil {
		t := *req.Temperature
		params.Temperature = &t
	}
	return params
}

// Stats reports the underlying cache counters
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.cache.Stats(ctx)
}

// Clear empties the cache
func (s *Service) Clear(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

// InvalidateModel drops every entry keyed to the model. Returns how many
// entries were removed.
func (s *Service) InvalidateModel(ctx context.Context, modelID string) (int, error) {
	return s.cache.DeleteByModel(ctx, modelID)
}

// CleanupExpired removes expired entries; the server runs this on a timer
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	return s.cache.CleanupExpired(ctx)
}

// RunJanitor evicts expired entries on a steady cadence until the
// context is cancelled.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.CleanupExpired(ctx); err != nil {
				s.logger.Warn("Cache cleanup failed", map[string]interface{}{
					"operation": "semcache_cleanup",
					"error":     err.Error(),
				})
			} else if n > 0 {
				s.logger.Debug("Expired cache entries removed", map[string]interface{}{
					"operation": "semcache_cleanup",
					"removed":   n,
				})
			}
		}
	}
}

func (s *Service) ttlSeconds() int64 {
	if s.cfg.TTLSeconds <= 0 {
		return 3600
	}
	return s.cfg.TTLSeconds
}
