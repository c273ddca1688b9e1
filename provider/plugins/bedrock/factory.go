package bedrock

import (
	"context"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/provider"
)

// DefaultRegion applies when neither the credential nor the environment
// names one.
const DefaultRegion = "us-east-1"

// Plugin implements provider.Plugin for AWS Bedrock
type Plugin struct{}

// NewPlugin creates the Bedrock plugin handle
func NewPlugin() *Plugin { return &Plugin{} }

// Metadata returns the plugin's identity
func (p *Plugin) Metadata() provider.PluginMetadata {
	return provider.PluginMetadata{ID: "bedrock", Name: "AWS Bedrock", Version: "1.0.0"}
}

// SupportedCredentialTypes lists the credential types this plugin serves
func (p *Plugin) SupportedCredentialTypes() []core.CredentialType {
	return []core.CredentialType{core.CredentialBedrock}
}

// Initialize prepares the plugin; no warm-up work is needed
func (p *Plugin) Initialize(ctx context.Context) error { return nil }

// Shutdown releases plugin resources
func (p *Plugin) Shutdown(ctx context.Context) error { return nil }

// CreateLlmProvider manufactures a client bound to the credential. The
// credential's APIKey carries the access key ID and Extra carries
// "secret_access_key" (plus optional "session_token" and "region"); with
// no explicit keys the default AWS credential chain applies.
func (p *Plugin) CreateLlmProvider(cfg provider.Config) (provider.LlmProvider, error) {
	region, _ := cfg.Extra["region"].(string)
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = DefaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.APIKey != "" {
		secret, _ := cfg.Extra["secret_access_key"].(string)
		if secret == "" {
			return nil, core.NewValidationError("bedrock credential has an access key but no secret_access_key")
		}
		sessionToken, _ := cfg.Extra["session_token"].(string)
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.APIKey, secret, sessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, core.NewProviderError("bedrock", "failed to load AWS config: %v", err)
	}
	return NewClient(awsCfg, region, cfg.Logger), nil
}

var _ provider.Plugin = (*Plugin)(nil)
