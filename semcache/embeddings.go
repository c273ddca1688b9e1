package semcache

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelgate/modelgate/core"
)

// DefaultEmbeddingModel is used when the configuration names none
const DefaultEmbeddingModel = "text-embedding-3-small"

// EmbeddingProvider turns query text into a dense vector
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// OpenAIEmbeddings calls the OpenAI embeddings endpoint
type OpenAIEmbeddings struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
}

// NewOpenAIEmbeddings creates an embeddings client. Empty baseURL
// targets api.openai.com; empty model applies DefaultEmbeddingModel.
func NewOpenAIEmbeddings(apiKey, baseURL, model string) *OpenAIEmbeddings {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OpenAIEmbeddings{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
	}
}

// ModelName returns the embedding model in use
func (c *OpenAIEmbeddings) ModelName() string { return c.model }

// Embed generates one embedding vector for the text
func (c *OpenAIEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.apiKey == "" {
		return nil, core.NewProviderError("openai", "embeddings API key not configured")
	}

	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, core.NewProviderError("openai", "failed to marshal embedding request: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, core.NewProviderError("openai", "failed to create embedding request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError("openai", "embedding request failed: %v", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, core.NewProviderError("openai", "failed to read embedding response: %v", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, core.NewProviderError("openai", "embedding request returned status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var payload embeddingResponse
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, core.NewProviderError("openai", "failed to decode embedding response: %v", err)
	}
	if len(payload.Data) == 0 {
		return nil, core.NewProviderError("openai", "embedding response contained no data")
	}
	return payload.Data[0].Embedding, nil
}

var _ EmbeddingProvider = (*OpenAIEmbeddings)(nil)
