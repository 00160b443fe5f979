package config

import (
	"fmt"
	"os"
)

// RequiredEmbeddingDimensions is the only vector size the store accepts.
const RequiredEmbeddingDimensions = 384

// EmbeddingConfig defines the text embedding provider.
type EmbeddingConfig struct {
	Provider           string `mapstructure:"provider"`     // "ollama" or "openai-compatible"
	Model              string `mapstructure:"model"`        // Model name/ID
	APIKey             string `mapstructure:"api_key"`      // API key (can be set directly or via env var)
	APIKeyEnv          string `mapstructure:"api_key_env"`  // Environment variable name for API key
	BaseURL            string `mapstructure:"base_url"`     // Provider base URL
	BaseURLEnv         string `mapstructure:"base_url_env"` // Environment variable name for base URL
	Dimensions         int    `mapstructure:"dimensions"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	LoadTimeoutSeconds int    `mapstructure:"load_timeout_seconds"`
}

// ResolveEnvVars fills APIKey and BaseURL from the named environment
// variables when they are not set directly.
func (c *EmbeddingConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}
	if c.BaseURLEnv != "" && c.BaseURL == "" {
		if val := os.Getenv(c.BaseURLEnv); val != "" {
			c.BaseURL = val
		}
	}
}

// Validate checks that the embedding configuration has all required fields.
// Returns an error describing the first validation failure, or nil if valid.
func (c *EmbeddingConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("embedding: model is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("embedding: base_url is required")
	}
	if c.Dimensions != RequiredEmbeddingDimensions {
		return fmt.Errorf("embedding: dimensions must be %d, got %d", RequiredEmbeddingDimensions, c.Dimensions)
	}
	switch c.Provider {
	case "ollama", "openai-compatible":
	default:
		return fmt.Errorf("embedding: unknown provider %q", c.Provider)
	}
	return nil
}
