package workflow

import "context"

// Document is one knowledge-base search result
type Document struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// KnowledgeBase is the external retrieval collaborator. The gateway
// defines only the interface; deployments wire their own backend.
type KnowledgeBase interface {
	Search(ctx context.Context, knowledgeBaseID, query string) ([]Document, error)
}

// ScoredDocuments is the outcome of CRAG relevance scoring
type ScoredDocuments struct {
	CorrectDocuments   []interface{} `json:"correct_documents"`
	AmbiguousDocuments []interface{} `json:"ambiguous_documents"`
	IncorrectDocuments []interface{} `json:"incorrect_documents"`
	CorrectCount       int           `json:"correct_count"`
}

// CragScorer classifies retrieved documents by relevance to the query
type CragScorer interface {
	Score(ctx context.Context, query string, documents []interface{}, threshold float64, strategy string) (*ScoredDocuments, error)
}
