package provider

import (
	"context"
	"sync"

	"github.com/modelgate/modelgate/core"
)

// ModelSource resolves a gateway model id to its stored definition
type ModelSource interface {
	GetModel(ctx context.Context, id string) (*core.Model, error)
}

// CredentialSource resolves a credential id to its stored material
type CredentialSource interface {
	GetCredential(ctx context.Context, id string) (*core.Credential, error)
}

// DefaultProviderCacheSize bounds the router's provider-instance cache
const DefaultProviderCacheSize = 100

type cacheKey struct {
	credType core.CredentialType
	credID   string
}

type cachedProvider struct {
	provider LlmProvider
	seq      uint64 // insertion order, for FIFO eviction
}

// Router resolves a model reference to a concrete provider instance.
// Provider instances are cached by (credential_type, credential_id); on
// overflow the oldest half of the cache is evicted in insertion (FIFO)
// order. Providers are stateless handles over HTTP clients, so eviction of
// an in-use instance is harmless: in-flight calls retain their reference.
type Router struct {
	registry    *PluginRegistry
	models      ModelSource
	credentials CredentialSource

	mu       sync.RWMutex
	cache    map[cacheKey]*cachedProvider
	seq      uint64
	capacity int

	logger core.Logger
}

// NewRouter creates a router over the plugin registry and entity sources
func NewRouter(registry *PluginRegistry, models ModelSource, credentials CredentialSource, logger core.Logger) *Router {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Router{
		registry:    registry,
		models:      models,
		credentials: credentials,
		cache:       make(map[cacheKey]*cachedProvider),
		capacity:    DefaultProviderCacheSize,
		logger:      logger,
	}
}

// SetCacheCapacity overrides the provider cache bound
func (r *Router) SetCacheCapacity(n int) {
	if n > 0 {
		r.mu.Lock()
		r.capacity = n
		r.mu.Unlock()
	}
}

// GetProvider resolves a model id to a usable provider instance
func (r *Router) GetProvider(ctx context.Context, modelID string) (LlmProvider, error) {
	model, err := r.lookupModel(ctx, modelID)
	if err != nil {
		return nil, err
	}

	cred, err := r.credentials.GetCredential(ctx, model.CredentialID)
	if err != nil {
		return nil, err
	}

	key := cacheKey{credType: model.CredentialType, credID: cred.ID}
	r.mu.RLock()
	if entry, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return entry.provider, nil
	}
	r.mu.RUnlock()

	// Provider creation may build HTTP clients; the cache lock is not held
	// across it. Concurrent misses may create duplicate instances; the
	// last one wins, which is harmless for stateless handles.
	plugin, err := r.registry.PluginFor(model.CredentialType)
	if err != nil {
		return nil, err
	}
	prov, err := plugin.CreateLlmProvider(Config{
		APIKey:  cred.APIKey,
		BaseURL: cred.BaseURL,
		Extra:   cred.Extra,
		Logger:  r.logger,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if len(r.cache) >= r.capacity {
		r.evictOldestHalf()
	}
	r.seq++
	r.cache[key] = &cachedProvider{provider: prov, seq: r.seq}
	size := len(r.cache)
	r.mu.Unlock()

	r.logger.Debug("Provider instance created", map[string]interface{}{
		"operation":       "router_create_provider",
		"credential_type": string(model.CredentialType),
		"credential_id":   cred.ID,
		"cache_size":      size,
	})
	return prov, nil
}

// GetProviderModel returns the upstream model string for a gateway model id
func (r *Router) GetProviderModel(ctx context.Context, modelID string) (string, error) {
	model, err := r.lookupModel(ctx, modelID)
	if err != nil {
		return "", err
	}
	return model.ProviderModel, nil
}

// CacheSize returns the number of cached provider instances
func (r *Router) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Router) lookupModel(ctx context.Context, modelID string) (*core.Model, error) {
	model, err := r.models.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if !model.Enabled {
		return nil, core.NewValidationError("model %s is disabled", modelID)
	}
	if model.CredentialID == "" {
		return nil, core.NewValidationError("model %s has no credential", modelID)
	}
	return model, nil
}

// evictOldestHalf drops the oldest half of the cache by insertion order.
// Callers hold the write lock. FIFO rather than true LRU: lookups do not
// touch entries, so eviction cost stays off the hot path.
func (r *Router) evictOldestHalf() {
	type aged struct {
		key cacheKey
		seq uint64
	}
	entries := make([]aged, 0, len(r.cache))
	for k, v := range r.cache {
		entries = append(entries, aged{key: k, seq: v.seq})
	}
	// Selection by partial sort is overkill at this capacity.
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].seq < entries[i].seq {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	evict := len(entries) / 2
	if evict == 0 {
		evict = 1
	}
	for _, e := range entries[:evict] {
		delete(r.cache, e.key)
	}
	r.logger.Debug("Provider cache eviction", map[string]interface{}{
		"operation": "router_cache_evict",
		"evicted":   evict,
		"remaining": len(r.cache),
	})
}
