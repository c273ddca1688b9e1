// Package plugins provides the shared HTTP client base used by the
// vendor-specific provider plugins.
//
// Retry policy lives in the chain executor, not here: a provider call is a
// single attempt, and every transport, HTTP, or decode failure surfaces as
// a provider error for the executor to classify.
package plugins

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/modelgate/modelgate/core"
)

// DefaultTimeout bounds a single upstream HTTP call when the credential
// does not override it.
const DefaultTimeout = 120 * time.Second

// BaseClient provides the common HTTP machinery for provider adapters
type BaseClient struct {
	HTTPClient *http.Client
	Logger     core.Logger
}

// NewBaseClient creates a base client with the given timeout
func NewBaseClient(timeout time.Duration, logger core.Logger) *BaseClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	// outgoing calls carry trace context so upstream latency shows up
	// under the request's span
	return &BaseClient{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Logger: logger,
	}
}

// Do executes a single HTTP request bound to the context
func (b *BaseClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return b.HTTPClient.Do(req.WithContext(ctx))
}

// HandleError converts a non-2xx upstream response into a provider error
func (b *BaseClient) HandleError(provider string, statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.NewProviderError(provider, "invalid or missing API key (status %d)", statusCode)
	case http.StatusTooManyRequests:
		return core.NewProviderError(provider, "rate limit exceeded (status 429)")
	case http.StatusBadRequest:
		return core.NewProviderError(provider, "invalid request (status 400): %s", truncate(string(body), 512))
	default:
		return core.NewProviderError(provider, "upstream error (status %d): %s", statusCode, truncate(string(body), 512))
	}
}

// LogRequest logs an outgoing provider request
func (b *BaseClient) LogRequest(provider, model string, messageCount int) {
	b.Logger.Debug("Provider request initiated", map[string]interface{}{
		"operation":     "provider_request",
		"provider":      provider,
		"model":         model,
		"message_count": messageCount,
	})
}

// LogResponse logs a completed provider request
func (b *BaseClient) LogResponse(provider, model string, usage *core.TokenUsage, duration time.Duration) {
	fields := map[string]interface{}{
		"operation":   "provider_response",
		"provider":    provider,
		"model":       model,
		"duration_ms": duration.Milliseconds(),
	}
	if usage != nil {
		fields["prompt_tokens"] = usage.PromptTokens
		fields["completion_tokens"] = usage.CompletionTokens
		fields["total_tokens"] = usage.TotalTokens
	}
	b.Logger.Info("Provider response received", fields)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
