package azure

import (
	"context"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/provider"
)

// Plugin implements provider.Plugin for Azure OpenAI resources
type Plugin struct{}

// NewPlugin creates the Azure OpenAI plugin handle
func NewPlugin() *Plugin { return &Plugin{} }

// Metadata returns the plugin's identity
func (p *Plugin) Metadata() provider.PluginMetadata {
	return provider.PluginMetadata{ID: "azure_openai", Name: "Azure OpenAI", Version: "1.0.0"}
}

// SupportedCredentialTypes lists the credential types this plugin serves
func (p *Plugin) SupportedCredentialTypes() []core.CredentialType {
	return []core.CredentialType{core.CredentialAzureOpenAI}
}

// Initialize prepares the plugin; no warm-up work is needed
func (p *Plugin) Initialize(ctx context.Context) error { return nil }

// Shutdown releases plugin resources
func (p *Plugin) Shutdown(ctx context.Context) error { return nil }

// CreateLlmProvider manufactures a client bound to the credential.
// The resource endpoint is required; the API version may be pinned per
// credential through Extra["api_version"].
func (p *Plugin) CreateLlmProvider(cfg provider.Config) (provider.LlmProvider, error) {
	if cfg.APIKey == "" {
		return nil, core.NewValidationError("azure_openai credential has no API key")
	}
	if cfg.BaseURL == "" {
		return nil, core.NewValidationError("azure_openai credential has no endpoint URL")
	}
	apiVersion, _ := cfg.Extra["api_version"].(string)
	return NewClient(cfg.APIKey, cfg.BaseURL, apiVersion, cfg.Logger), nil
}

var _ provider.Plugin = (*Plugin)(nil)
