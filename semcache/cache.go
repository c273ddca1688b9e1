// Package semcache implements the semantic response cache: embeddings of
// past queries searched by cosine similarity, with TTL expiry and
// oldest-first eviction.
package semcache

import (
	"context"
	"math"
)

// DefaultMinSimilarity is the similarity floor applied when a search
// does not set one.
const DefaultMinSimilarity = 0.95

// DefaultCapacity bounds the in-memory entry table
const DefaultCapacity = 1000

// temperatureTolerance is the maximum |Δ| for the temperature filter
const temperatureTolerance = 0.01

// Entry is one cached response keyed by its query embedding
type Entry struct {
	ID                 string    `json:"id"`
	Embedding          []float32 `json:"embedding"`
	QueryText          string    `json:"query_text"`
	SerializedResponse []byte    `json:"serialized_response"`
	ModelID            string    `json:"model_id,omitempty"`
	Temperature        *float64  `json:"temperature,omitempty"`
	CreatedAtSec       int64     `json:"created_at_sec"`
	ExpiresAtSec       int64     `json:"expires_at_sec"`
	HitCount           int64     `json:"hit_count"`
}

// IsExpired reports whether the entry has passed its absolute expiry
func (e *Entry) IsExpired(nowSec int64) bool {
	return nowSec >= e.ExpiresAtSec
}

// SearchParams narrows and ranks a similarity search
type SearchParams struct {
	ModelID       string   // exact match when non-empty
	Temperature   *float64 // |Δ| ≤ 0.01 when set
	MinSimilarity float64  // 0 applies DefaultMinSimilarity
	Limit         int      // 0 applies a limit of 1
}

func (p SearchParams) minSimilarity() float64 {
	if p.MinSimilarity <= 0 {
		return DefaultMinSimilarity
	}
	return p.MinSimilarity
}

func (p SearchParams) limit() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Limit
}

// matches reports whether the entry passes the optional filters
func (p SearchParams) matches(e *Entry) bool {
	if p.ModelID != "" && e.ModelID != p.ModelID {
		return false
	}
	if p.Temperature != nil {
		if e.Temperature == nil {
			return false
		}
		if math.Abs(*e.Temperature-*p.Temperature) > temperatureTolerance {
			return false
		}
	}
	return true
}

// Match pairs an entry with its similarity to the query embedding
type Match struct {
	Entry      *Entry
	Similarity float64
}

// Stats is a point-in-time snapshot of cache effectiveness
type Stats struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	Evictions        int64   `json:"evictions"`
	Expired          int64   `json:"expired"`
	Size             int     `json:"size"`
	HitRate          float64 `json:"hit_rate"`
	AvgHitSimilarity float64 `json:"avg_hit_similarity"`
}

// Cache is the semantic cache contract. The memory implementation never
// blocks; the Redis implementation suspends on every call, hence the
// contexts.
type Cache interface {
	Search(ctx context.Context, embedding []float32, params SearchParams) ([]Match, error)
	FindSimilar(ctx context.Context, embedding []float32, params SearchParams) (*Match, error)
	Store(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	Delete(ctx context.Context, id string) error
	DeleteByModel(ctx context.Context, modelID string) (int, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (*Stats, error)
	Size(ctx context.Context) (int, error)
	RecordHit(ctx context.Context, id string, similarity float64) error
	RecordMiss(ctx context.Context) error
	CleanupExpired(ctx context.Context) (int, error)
}

// CosineSimilarity computes dot(a,b) / (||a||·||b||) over float32
// vectors with float64 accumulation. Mismatched lengths and zero-norm
// vectors score 0 by convention.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
