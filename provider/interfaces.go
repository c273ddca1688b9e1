// Package provider defines the uniform contract over upstream LLM vendors,
// the plugin registry that maps credential types to provider factories, and
// the router that resolves a gateway model id to a usable provider
// instance.
package provider

import (
	"context"

	"github.com/modelgate/modelgate/core"
)

// LlmProvider is the single contract every upstream vendor adapter
// implements. Model strings are provider-specific and passed verbatim.
type LlmProvider interface {
	// Chat performs a blocking completion
	Chat(ctx context.Context, model string, req *core.ChatRequest) (*core.ChatResponse, error)

	// ChatStream performs a streaming completion. The returned channel is
	// closed when the stream ends; transport errors surface as a chunk
	// with FinishReason set to FinishError.
	ChatStream(ctx context.Context, model string, req *core.ChatRequest) (<-chan core.StreamChunk, error)

	// ProviderName returns the static provider name
	ProviderName() string

	// AvailableModels lists the models the provider is known to serve
	AvailableModels() []string
}

// Config carries the credential material a plugin needs to manufacture a
// provider instance.
type Config struct {
	APIKey  string
	BaseURL string
	Extra   map[string]interface{}
	Logger  core.Logger
}

// PluginMetadata identifies a registered plugin
type PluginMetadata struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// PluginState is the lifecycle state of a plugin. Transitions:
// Registered → Initializing → Ready → ShuttingDown → Stopped, with Error
// reachable from Initializing.
type PluginState string

const (
	StateRegistered   PluginState = "registered"
	StateInitializing PluginState = "initializing"
	StateReady        PluginState = "ready"
	StateShuttingDown PluginState = "shutting_down"
	StateStopped      PluginState = "stopped"
	StateError        PluginState = "error"
)

// Plugin is a factory and lifecycle handle for producing LlmProvider
// instances from credentials.
type Plugin interface {
	// Metadata returns the plugin's identity
	Metadata() PluginMetadata

	// SupportedCredentialTypes lists the credential types this plugin can
	// serve; the registry indexes them for router lookups.
	SupportedCredentialTypes() []core.CredentialType

	// Initialize prepares the plugin for use
	Initialize(ctx context.Context) error

	// Shutdown releases the plugin's resources
	Shutdown(ctx context.Context) error

	// CreateLlmProvider manufactures a provider instance bound to the
	// given credential material.
	CreateLlmProvider(cfg Config) (LlmProvider, error)
}
