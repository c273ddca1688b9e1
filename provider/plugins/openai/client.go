// Package openai implements the LlmProvider contract over the OpenAI
// chat-completions wire format. The same client serves OpenAI-compatible
// endpoints through a custom base URL.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/provider"
	"github.com/modelgate/modelgate/provider/plugins"
)

// DefaultBaseURL is the OpenAI API endpoint
const DefaultBaseURL = "https://api.openai.com/v1"

// ChatMessage is one message in the OpenAI wire format
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the OpenAI chat-completions request body
type ChatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// StreamOptions requests usage reporting on the final stream chunk
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

type streamChunkPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

// BuildRequest converts a provider-neutral request into the OpenAI wire
// format. Shared with the Azure plugin, which speaks the same body.
func BuildRequest(model string, req *core.ChatRequest) ChatCompletionRequest {
	msgs := make([]ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, ChatMessage{Role: string(m.Role), Content: m.Text()})
	}
	return ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}
}

// MapFinishReason translates an OpenAI finish_reason into the gateway's
// closed set.
func MapFinishReason(s string) core.FinishReason {
	switch s {
	case "stop":
		return core.FinishStop
	case "length":
		return core.FinishLength
	case "content_filter":
		return core.FinishContentFilter
	case "tool_calls":
		return core.FinishToolCalls
	case "":
		return ""
	default:
		return core.FinishStop
	}
}

// ParseResponse decodes an OpenAI completion body into the neutral form.
// Shared with the Azure plugin.
func ParseResponse(providerName string, body []byte) (*core.ChatResponse, error) {
	var payload chatCompletionResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, core.NewProviderError(providerName, "failed to decode response: %v", err)
	}
	if len(payload.Choices) == 0 {
		return nil, core.NewProviderError(providerName, "response contained no choices")
	}
	choice := payload.Choices[0]

	resp := &core.ChatResponse{
		ID:    payload.ID,
		Model: payload.Model,
		Message: core.Message{
			Role:    core.Role(choice.Message.Role),
			Content: choice.Message.Content,
		},
		FinishReason: MapFinishReason(choice.FinishReason),
	}
	if payload.Usage != nil {
		resp.Usage = &core.TokenUsage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		}
	}
	return resp, nil
}

// Client implements provider.LlmProvider for OpenAI-style endpoints
type Client struct {
	*plugins.BaseClient
	apiKey  string
	baseURL string
	name    string
}

// NewClient creates a client for the given endpoint. An empty baseURL
// targets api.openai.com.
func NewClient(apiKey, baseURL string, logger core.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseClient: plugins.NewBaseClient(plugins.DefaultTimeout, logger),
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		name:       "openai",
	}
}

// ProviderName returns the static provider name
func (c *Client) ProviderName() string { return c.name }

// AvailableModels lists commonly served models
func (c *Client) AvailableModels() []string {
	return []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"}
}

// Chat performs a blocking completion
func (c *Client) Chat(ctx context.Context, model string, req *core.ChatRequest) (*core.ChatResponse, error) {
	if c.apiKey == "" {
		return nil, core.NewProviderError(c.name, "API key not configured")
	}

	c.LogRequest(c.name, model, len(req.Messages))
	startTime := time.Now()

	body, err := json.Marshal(BuildRequest(model, req))
	if err != nil {
		return nil, core.NewProviderError(c.name, "failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, core.NewProviderError(c.name, "failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError(c.name, "request failed: %v", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, core.NewProviderError(c.name, "failed to read response: %v", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, c.HandleError(c.name, httpResp.StatusCode, respBody)
	}

	resp, err := ParseResponse(c.name, respBody)
	if err != nil {
		return nil, err
	}
	c.LogResponse(c.name, model, resp.Usage, time.Since(startTime))
	return resp, nil
}

// ChatStream performs a streaming completion over SSE
func (c *Client) ChatStream(ctx context.Context, model string, req *core.ChatRequest) (<-chan core.StreamChunk, error) {
	if c.apiKey == "" {
		return nil, core.NewProviderError(c.name, "API key not configured")
	}

	wireReq := BuildRequest(model, req)
	wireReq.Stream = true
	wireReq.StreamOptions = &StreamOptions{IncludeUsage: true}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, core.NewProviderError(c.name, "failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, core.NewProviderError(c.name, "failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError(c.name, "request failed: %v", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		return nil, c.HandleError(c.name, httpResp.StatusCode, respBody)
	}

	return StreamChunks(ctx, httpResp.Body, c.name, c.Logger), nil
}

// StreamChunks parses an OpenAI-format SSE body into a chunk channel.
// The body is closed when the stream ends. Shared with the Azure plugin,
// which speaks the same stream format.
func StreamChunks(ctx context.Context, body io.ReadCloser, providerName string, logger core.Logger) <-chan core.StreamChunk {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	chunks := make(chan core.StreamChunk)
	go func() {
		defer close(chunks)
		defer func() { _ = body.Close() }()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var payload streamChunkPayload
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				continue // malformed keep-alive or comment line
			}

			chunk := core.StreamChunk{}
			if len(payload.Choices) > 0 {
				chunk.Delta = payload.Choices[0].Delta.Content
				chunk.FinishReason = MapFinishReason(payload.Choices[0].FinishReason)
			}
			if payload.Usage != nil {
				chunk.Usage = &core.TokenUsage{
					PromptTokens:     payload.Usage.PromptTokens,
					CompletionTokens: payload.Usage.CompletionTokens,
					TotalTokens:      payload.Usage.TotalTokens,
				}
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case chunks <- core.StreamChunk{FinishReason: core.FinishError}:
			case <-ctx.Done():
			}
			logger.Warn("Stream read failed", map[string]interface{}{
				"operation": "provider_stream_error",
				"provider":  providerName,
				"error":     err.Error(),
			})
		}
	}()
	return chunks
}

var _ provider.LlmProvider = (*Client)(nil)
