package anthropic

import (
	"context"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/provider"
)

// Plugin implements provider.Plugin for the Anthropic Messages API
type Plugin struct{}

// NewPlugin creates the Anthropic plugin handle
func NewPlugin() *Plugin { return &Plugin{} }

// Metadata returns the plugin's identity
func (p *Plugin) Metadata() provider.PluginMetadata {
	return provider.PluginMetadata{ID: "anthropic", Name: "Anthropic", Version: "1.0.0"}
}

// SupportedCredentialTypes lists the credential types this plugin serves
func (p *Plugin) SupportedCredentialTypes() []core.CredentialType {
	return []core.CredentialType{core.CredentialAnthropic}
}

// Initialize prepares the plugin; no warm-up work is needed
func (p *Plugin) Initialize(ctx context.Context) error { return nil }

// Shutdown releases plugin resources
func (p *Plugin) Shutdown(ctx context.Context) error { return nil }

// CreateLlmProvider manufactures a client bound to the credential
func (p *Plugin) CreateLlmProvider(cfg provider.Config) (provider.LlmProvider, error) {
	if cfg.APIKey == "" {
		return nil, core.NewValidationError("anthropic credential has no API key")
	}
	return NewClient(cfg.APIKey, cfg.BaseURL, cfg.Logger), nil
}

var _ provider.Plugin = (*Plugin)(nil)
