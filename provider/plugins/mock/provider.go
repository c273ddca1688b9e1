// Package mock provides a scriptable provider for tests. It is never
// wired into production configuration; tests register it explicitly.
package mock

import (
	"context"
	"sync"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/provider"
)

// Client implements provider.LlmProvider with scripted responses
type Client struct {
	mu            sync.Mutex
	Responses     []string
	ResponseIndex int
	Err           error
	CallCount     int
	LastModel     string
	LastRequest   *core.ChatRequest
	LatencyFn     func() // runs inside Chat, before the response is built
}

// NewClient creates a mock client with a single canned response
func NewClient() *Client {
	return &Client{Responses: []string{"mock response"}}
}

// ProviderName returns the static provider name
func (c *Client) ProviderName() string { return "mock" }

// AvailableModels lists the scripted model
func (c *Client) AvailableModels() []string { return []string{"mock-model"} }

// SetResponses replaces the scripted responses and rewinds the cursor
func (c *Client) SetResponses(responses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Responses = responses
	c.ResponseIndex = 0
}

// SetError makes every subsequent call fail with err
func (c *Client) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Err = err
}

// Calls reports how many completions were attempted
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCount
}

// Chat returns the next scripted response
func (c *Client) Chat(ctx context.Context, model string, req *core.ChatRequest) (*core.ChatResponse, error) {
	c.mu.Lock()
	c.CallCount++
	c.LastModel = model
	c.LastRequest = req
	latency := c.LatencyFn
	err := c.Err
	var response string
	if err == nil {
		if c.ResponseIndex < len(c.Responses) {
			response = c.Responses[c.ResponseIndex]
			c.ResponseIndex++
		} else if len(c.Responses) > 0 {
			response = c.Responses[len(c.Responses)-1]
		}
	}
	c.mu.Unlock()

	if latency != nil {
		latency()
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if err != nil {
		return nil, err
	}

	return &core.ChatResponse{
		ID:    "mock-completion",
		Model: model,
		Message: core.Message{
			Role:    core.RoleAssistant,
			Content: response,
		},
		FinishReason: core.FinishStop,
		Usage: &core.TokenUsage{
			PromptTokens:     7,
			CompletionTokens: len(response) / 4,
			TotalTokens:      7 + len(response)/4,
		},
	}, nil
}

// ChatStream replays the next scripted response as single-rune deltas
func (c *Client) ChatStream(ctx context.Context, model string, req *core.ChatRequest) (<-chan core.StreamChunk, error) {
	resp, err := c.Chat(ctx, model, req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan core.StreamChunk)
	go func() {
		defer close(chunks)
		for _, r := range resp.Message.Content {
			select {
			case chunks <- core.StreamChunk{Delta: string(r)}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case chunks <- core.StreamChunk{FinishReason: core.FinishStop, Usage: resp.Usage}:
		case <-ctx.Done():
		}
	}()
	return chunks, nil
}

// Plugin implements provider.Plugin around a shared mock client, so
// tests can script the client the router will hand out.
type Plugin struct {
	Client  *Client
	InitErr error
}

// NewPlugin creates a mock plugin with a fresh client
func NewPlugin() *Plugin { return &Plugin{Client: NewClient()} }

// Metadata returns the plugin's identity
func (p *Plugin) Metadata() provider.PluginMetadata {
	return provider.PluginMetadata{ID: "mock", Name: "Mock", Version: "0.0.1"}
}

// SupportedCredentialTypes lists the credential types this plugin serves
func (p *Plugin) SupportedCredentialTypes() []core.CredentialType {
	return []core.CredentialType{core.CredentialMock}
}

// Initialize returns the scripted init error, if any
func (p *Plugin) Initialize(ctx context.Context) error { return p.InitErr }

// Shutdown releases plugin resources
func (p *Plugin) Shutdown(ctx context.Context) error { return nil }

// CreateLlmProvider hands out the shared scripted client
func (p *Plugin) CreateLlmProvider(cfg provider.Config) (provider.LlmProvider, error) {
	return p.Client, nil
}

var (
	_ provider.LlmProvider = (*Client)(nil)
	_ provider.Plugin      = (*Plugin)(nil)
)
