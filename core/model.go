package core

import (
	"strings"
	"time"
)

// CredentialType identifies the upstream vendor family a credential belongs
// to. Plugins advertise the credential types they support.
type CredentialType string

const (
	CredentialOpenAI      CredentialType = "openai"
	CredentialAnthropic   CredentialType = "anthropic"
	CredentialAzureOpenAI CredentialType = "azure_openai"
	CredentialBedrock     CredentialType = "bedrock"
	CredentialMock        CredentialType = "mock"
)

// Model maps a gateway model id to an upstream provider model.
// ProviderModel is free text passed to the upstream API verbatim; the
// gateway performs no rewriting.
type Model struct {
	ID             string         `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name"`
	CredentialType CredentialType `json:"credential_type" yaml:"credential_type"`
	ProviderModel  string         `json:"provider_model" yaml:"provider_model"`
	CredentialID   string         `json:"credential_id" yaml:"credential_id"`
	Enabled        bool           `json:"enabled" yaml:"enabled"`
	CreatedAt      time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" yaml:"updated_at"`
}

// Validate checks the model's identifiers and required fields
func (m *Model) Validate() error {
	if err := ValidateID(m.ID); err != nil {
		return err
	}
	if m.ProviderModel == "" {
		return NewValidationError("model %s: provider_model is required", m.ID)
	}
	if m.CredentialID != "" {
		if err := ValidateID(m.CredentialID); err != nil {
			return err
		}
	}
	return nil
}

// Credential holds the secret material and connection parameters used to
// manufacture a provider instance.
type Credential struct {
	ID             string                 `json:"id" yaml:"id"`
	Name           string                 `json:"name" yaml:"name"`
	CredentialType CredentialType         `json:"credential_type" yaml:"credential_type"`
	APIKey         string                 `json:"api_key" yaml:"api_key"`
	BaseURL        string                 `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
	Enabled        bool                   `json:"enabled" yaml:"enabled"`
	CreatedAt      time.Time              `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at" yaml:"updated_at"`
}

// Validate checks the credential's identifier
func (c *Credential) Validate() error {
	if err := ValidateID(c.ID); err != nil {
		return err
	}
	if c.CredentialType == "" {
		return NewValidationError("credential %s: credential_type is required", c.ID)
	}
	return nil
}

// Prompt is a stored prompt template. Variables are ${name} or
// ${name:default} references substituted by Render.
type Prompt struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Template  string    `json:"template" yaml:"template"`
	Variables []string  `json:"variables,omitempty" yaml:"variables,omitempty"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Validate checks the prompt's identifier and template
func (p *Prompt) Validate() error {
	if err := ValidateID(p.ID); err != nil {
		return err
	}
	if p.Template == "" {
		return NewValidationError("prompt %s: template is required", p.ID)
	}
	return nil
}

// Render substitutes every ${name} and ${name:default} reference in the
// template. A missing variable with no default is a validation error;
// an unterminated reference is copied through literally.
func (p *Prompt) Render(vars map[string]string) (string, error) {
	var out strings.Builder
	s := p.Template
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			out.WriteString(s)
			return out.String(), nil
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			out.WriteString(s)
			return out.String(), nil
		}
		end += start

		out.WriteString(s[:start])
		name := s[start+2 : end]
		def := ""
		hasDefault := false
		if idx := strings.Index(name, ":"); idx >= 0 {
			name, def, hasDefault = name[:idx], name[idx+1:], true
		}

		if value, ok := vars[name]; ok {
			out.WriteString(value)
		} else if hasDefault {
			out.WriteString(def)
		} else {
			return "", NewValidationError("prompt %s: no value for ${%s}", p.ID, name)
		}
		s = s[end+1:]
	}
}
