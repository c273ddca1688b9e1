// Package anthropic implements the LlmProvider contract over the
// Anthropic Messages API.
package anthropic

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

const (
	// DefaultBaseURL is the Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"
	// apiVersion is the pinned Messages API version header
	apiVersion = "2023-06-01"
	// defaultMaxTokens applies when the request does not set a limit;
	// the Messages API requires max_tokens.
	defaultMaxTokens = 4096
)

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type messagesResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// mapStopReason translates an Anthropic stop_reason into the gateway's
// closed set.
func mapStopReason(s string) core.FinishReason {
	switch s {
	case "end_turn", "stop_sequence":
		return core.FinishStop
	case "max_tokens":
		return core.FinishLength
	case "tool_use":
		return core.FinishToolCalls
	case "":
		return ""
	default:
		return core.FinishStop
	}
}

// Client implements provider.LlmProvider for the Messages API
type Client struct {
	*plugins.BaseClient
	apiKey  string
	baseURL string
}

// NewClient creates a Messages API client
func NewClient(apiKey, baseURL string, logger core.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseClient: plugins.NewBaseClient(plugins.DefaultTimeout, logger),
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// ProviderName returns the static provider name
func (c *Client) ProviderName() string { return "anthropic" }

// AvailableModels lists commonly served models
func (c *Client) AvailableModels() []string {
	return []string{"claude-3-5-sonnet-latest", "claude-3-5-haiku-latest", "claude-3-opus-latest"}
}

// buildRequest converts the neutral request. System messages fold into the
// top-level system field; tool messages are passed through as user turns
// since the Messages API has no bare tool role.
func buildRequest(model string, req *core.ChatRequest) messagesRequest {
	out := messagesRequest{
		Model:       model,
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		out.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleSystem:
			system = append(system, m.Text())
		case core.RoleAssistant:
			out.Messages = append(out.Messages, wireMessage{Role: "assistant", Content: m.Text()})
		default:
			out.Messages = append(out.Messages, wireMessage{Role: "user", Content: m.Text()})
		}
	}
	out.System = strings.Join(system, "\n")
	return out
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, core.NewProviderError("anthropic", "failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	return httpReq, nil
}

// Chat performs a blocking completion
func (c *Client) Chat(ctx context.Context, model string, req *core.ChatRequest) (*core.ChatResponse, error) {
	if c.apiKey == "" {
		return nil, core.NewProviderError("anthropic", "API key not configured")
	}

	c.LogRequest("anthropic", model, len(req.Messages))
	startTime := time.Now()

	body, err := json.Marshal(buildRequest(model, req))
	if err != nil {
		return nil, core.NewProviderError("anthropic", "failed to marshal request: %v", err)
	}
	httpReq, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError("anthropic", "request failed: %v", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, core.NewProviderError("anthropic", "failed to read response: %v", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, c.HandleError("anthropic", httpResp.StatusCode, respBody)
	}

	var payload messagesResponse
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, core.NewProviderError("anthropic", "failed to decode response: %v", err)
	}

	var text strings.Builder
	for _, block := range payload.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	usage := &core.TokenUsage{
		PromptTokens:     payload.Usage.InputTokens,
		CompletionTokens: payload.Usage.OutputTokens,
		TotalTokens:      payload.Usage.InputTokens + payload.Usage.OutputTokens,
	}
	c.LogResponse("anthropic", model, usage, time.Since(startTime))

	return &core.ChatResponse{
		ID:    payload.ID,
		Model: payload.Model,
		Message: core.Message{
			Role:    core.RoleAssistant,
			Content: text.String(),
		},
		FinishReason: mapStopReason(payload.StopReason),
		Usage:        usage,
	}, nil
}

// ChatStream performs a streaming completion over SSE
func (c *Client) ChatStream(ctx context.Context, model string, req *core.ChatRequest) (<-chan core.StreamChunk, error) {
	if c.apiKey == "" {
		return nil, core.NewProviderError("anthropic", "API key not configured")
	}

	wireReq := buildRequest(model, req)
	wireReq.Stream = true
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, core.NewProviderError("anthropic", "failed to marshal request: %v", err)
	}
	httpReq, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError("anthropic", "request failed: %v", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		return nil, c.HandleError("anthropic", httpResp.StatusCode, respBody)
	}

	chunks := make(chan core.StreamChunk)
	go func() {
		defer close(chunks)
		defer func() { _ = httpResp.Body.Close() }()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var ev streamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}

			var chunk core.StreamChunk
			switch ev.Type {
			case "content_block_delta":
				chunk.Delta = ev.Delta.Text
			case "message_delta":
				chunk.FinishReason = mapStopReason(ev.Delta.StopReason)
				if ev.Usage.OutputTokens > 0 {
					chunk.Usage = &core.TokenUsage{CompletionTokens: ev.Usage.OutputTokens}
				}
			case "message_stop":
				return
			default:
				continue
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
		}
	}()

	return chunks, nil
}

var _ provider.LlmProvider = (*Client)(nil)
