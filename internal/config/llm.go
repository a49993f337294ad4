package config

import (
	"fmt"
	"time"
)

// LLMConfig configures the language-model collaborator.
type LLMConfig struct {
	// Enabled toggles the primary extractor. When false every turn goes
	// straight to the fallback rule engine.
	Enabled bool `yaml:"enabled"`

	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// Timeout bounds one generate call. A stalled upstream model must
	// never hang a chat turn.
	Timeout string `yaml:"timeout"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// CacheSize bounds the LRU reply cache (entries). Zero disables it.
	CacheSize int `yaml:"cache_size"`
}

// DefaultLLMConfig returns sensible defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Enabled:     true,
		Model:       "command-r",
		BaseURL:     "https://api.cohere.com/v2",
		Timeout:     "10s",
		MaxTokens:   300,
		Temperature: 0.1,
		CacheSize:   256,
	}
}

// ParsedTimeout returns the call timeout as a duration.
func (c *LLMConfig) ParsedTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parse llm timeout %q: %w", c.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("llm timeout must be positive, got %s", d)
	}
	return d, nil
}
