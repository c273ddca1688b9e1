// Package azure implements the LlmProvider contract for Azure OpenAI
// deployments. The wire format is OpenAI's; only the URL shape and auth
// header differ, so the request/response codecs are shared with the openai
// plugin.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/provider"
	"github.com/modelgate/modelgate/provider/plugins"
	"github.com/modelgate/modelgate/provider/plugins/openai"
)

// DefaultAPIVersion is the Azure OpenAI data-plane API version
const DefaultAPIVersion = "2024-02-01"

// Client implements provider.LlmProvider for Azure OpenAI.
// The model string is the deployment name.
type Client struct {
	*plugins.BaseClient
	apiKey     string
	endpoint   string // https://<resource>.openai.azure.com
	apiVersion string
}

// NewClient creates a client for the given Azure resource endpoint
func NewClient(apiKey, endpoint, apiVersion string, logger core.Logger) *Client {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	return &Client{
		BaseClient: plugins.NewBaseClient(plugins.DefaultTimeout, logger),
		apiKey:     apiKey,
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiVersion: apiVersion,
	}
}

// ProviderName returns the static provider name
func (c *Client) ProviderName() string { return "azure_openai" }

// AvailableModels cannot be enumerated for Azure: deployments are
// resource-scoped names chosen by the operator.
func (c *Client) AvailableModels() []string { return nil }

func (c *Client) completionsURL(deployment string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, url.PathEscape(deployment), url.QueryEscape(c.apiVersion))
}

func (c *Client) send(ctx context.Context, deployment string, wireReq openai.ChatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, core.NewProviderError("azure_openai", "failed to marshal request: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(deployment), bytes.NewReader(body))
	if err != nil {
		return nil, core.NewProviderError("azure_openai", "failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError("azure_openai", "request failed: %v", err)
	}
	return httpResp, nil
}

// Chat performs a blocking completion against a deployment
func (c *Client) Chat(ctx context.Context, model string, req *core.ChatRequest) (*core.ChatResponse, error) {
	if c.apiKey == "" {
		return nil, core.NewProviderError("azure_openai", "API key not configured")
	}

	c.LogRequest("azure_openai", model, len(req.Messages))
	startTime := time.Now()

	httpResp, err := c.send(ctx, model, openai.BuildRequest(model, req))
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, core.NewProviderError("azure_openai", "failed to read response: %v", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, c.HandleError("azure_openai", httpResp.StatusCode, respBody)
	}

	resp, err := openai.ParseResponse("azure_openai", respBody)
	if err != nil {
		return nil, err
	}
	c.LogResponse("azure_openai", model, resp.Usage, time.Since(startTime))
	return resp, nil
}

// ChatStream performs a streaming completion against a deployment
func (c *Client) ChatStream(ctx context.Context, model string, req *core.ChatRequest) (<-chan core.StreamChunk, error) {
	if c.apiKey == "" {
		return nil, core.NewProviderError("azure_openai", "API key not configured")
	}

	wireReq := openai.BuildRequest(model, req)
	wireReq.Stream = true
	wireReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	httpResp, err := c.send(ctx, model, wireReq)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		return nil, c.HandleError("azure_openai", httpResp.StatusCode, respBody)
	}

	return openai.StreamChunks(ctx, httpResp.Body, "azure_openai", c.Logger), nil
}

var _ provider.LlmProvider = (*Client)(nil)
