// Package config defines the gateway's configuration object. The core
// packages read no environment variables; everything is driven from this
// struct tree.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Storage       StorageConfig       `yaml:"storage"`
	SemanticCache SemanticCacheConfig `yaml:"semantic_cache"`
	Plugins       PluginsConfig       `yaml:"plugins"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Webhooks      WebhooksConfig      `yaml:"webhooks"`
}

// ServerConfig controls the HTTP bind address
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig controls telemetry output
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // pretty | json
}

// AuthConfig holds token lifetime settings (minting is external)
type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret,omitempty"`
	JWTExpirationHours int    `yaml:"jwt_expiration_hours"`
}

// TracingConfig controls span export
type TracingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	OTLPEndpoint  string  `yaml:"otlp_endpoint"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// ObservabilityConfig groups tracing options
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Backend  string         `yaml:"backend"` // memory | postgres
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds the pgx connection string
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// SemanticCacheConfig controls the embedding-keyed response cache
type SemanticCacheConfig struct {
	Enabled               bool    `yaml:"enabled"`
	SimilarityThreshold   float64 `yaml:"similarity_threshold"`
	TTLSeconds            int64   `yaml:"ttl_seconds"`
	MaxEntries            int     `yaml:"max_entries"`
	EmbeddingModel        string  `yaml:"embedding_model"`
	IncludeModelInKey     bool    `yaml:"include_model_in_key"`
	IncludeTemperatureKey bool    `yaml:"include_temperature_in_key"`
	CacheStreaming        bool    `yaml:"cache_streaming"`
	RedisAddr             string  `yaml:"redis_addr,omitempty"` // empty = in-process store
}

// PluginProviderConfig activates a single provider plugin
type PluginProviderConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PluginsConfig controls plugin activation
type PluginsConfig struct {
	Settings struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"settings"`
	Providers struct {
		OpenAI      PluginProviderConfig `yaml:"openai"`
		Anthropic   PluginProviderConfig `yaml:"anthropic"`
		AzureOpenAI PluginProviderConfig `yaml:"azure_openai"`
		Bedrock     PluginProviderConfig `yaml:"bedrock"`
	} `yaml:"providers"`
}

// WorkflowConfig bounds workflow execution
type WorkflowConfig struct {
	MaxSteps int `yaml:"max_steps"`
}

// WebhooksConfig controls the delivery retry worker
type WebhooksConfig struct {
	PollIntervalSecs int64 `yaml:"poll_interval_secs"`
}

// Default returns a configuration with production-ready defaults
func Default() *Config {
	cfg := &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Auth:    AuthConfig{JWTExpirationHours: 24},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{SamplingRatio: 1.0},
		},
		Storage: StorageConfig{Backend: "memory"},
		SemanticCache: SemanticCacheConfig{
			SimilarityThreshold: 0.95,
			TTLSeconds:          3600,
			MaxEntries:          10000,
			EmbeddingModel:      "text-embedding-3-small",
		},
		Workflow: WorkflowConfig{MaxSteps: 100},
		Webhooks: WebhooksConfig{PollIntervalSecs: 10},
	}
	cfg.Plugins.Settings.Enabled = true
	cfg.Plugins.Providers.OpenAI.Enabled = true
	return cfg
}

// Parse unmarshals YAML over the defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Logging.Format {
	case "", "pretty", "json":
	default:
		return fmt.Errorf("logging.format must be pretty or json, got %q", c.Logging.Format)
	}
	switch c.Storage.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
	}
	if t := c.SemanticCache.SimilarityThreshold; t < -1 || t > 1 {
		return fmt.Errorf("semantic_cache.similarity_threshold %v out of [-1, 1]", t)
	}
	if r := c.Observability.Tracing.SamplingRatio; r < 0 || r > 1 {
		return fmt.Errorf("observability.tracing.sampling_ratio %v out of [0, 1]", r)
	}
	if c.Workflow.MaxSteps < 0 {
		return fmt.Errorf("workflow.max_steps must be non-negative")
	}
	return nil
}
