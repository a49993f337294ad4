// Package config loads and validates taskchat configuration from a YAML
// file, with environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all taskchat configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Language model collaborator
	LLM LLMConfig `yaml:"llm"`

	// Persistence
	Store StoreConfig `yaml:"store"`

	// Chat/turn processing behavior
	Chat ChatConfig `yaml:"chat"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// Task reference resolution policies for complete/update/delete.
const (
	TaskRefStrictID      = "strict-id-only"
	TaskRefTitleFallback = "permit-title-fallback"
)

// Tool-call persistence strategies for the orchestrator.
const (
	ToolCallPersistSingle   = "single"
	ToolCallPersistIsolated = "isolated"
)

// ChatConfig configures per-turn processing.
type ChatConfig struct {
	// MaxMessageChars bounds the sanitized message length.
	MaxMessageChars int `yaml:"max_message_chars"`

	// HistoryLimit bounds how many prior messages feed the prompt.
	HistoryLimit int `yaml:"history_limit"`

	// TaskRefPolicy: strict-id-only or permit-title-fallback.
	TaskRefPolicy string `yaml:"task_ref_policy"`

	// ToolCallPersistence: single or isolated.
	ToolCallPersistence string `yaml:"tool_call_persistence"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Dir        string          `yaml:"dir"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns a config with sensible defaults for local use.
func Default() *Config {
	return &Config{
		Name:    "taskchat",
		Version: "1.0.0",
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeout:     "15s",
			WriteTimeout:    "30s",
			ShutdownTimeout: "10s",
		},
		LLM: DefaultLLMConfig(),
		Store: StoreConfig{
			DatabasePath: filepath.Join(".taskchat", "taskchat.db"),
		},
		Chat: ChatConfig{
			MaxMessageChars:     1000,
			HistoryLimit:        50,
			TaskRefPolicy:       TaskRefTitleFallback,
			ToolCallPersistence: ToolCallPersistSingle,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Dir:       filepath.Join(".taskchat", "logs"),
			Level:     "info",
		},
	}
}

// Load reads the YAML config at path, layered over defaults, then applies
// environment overrides. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv overrides secrets and connection settings from the
// environment. Secrets never belong in the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("TASKCHAT_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("TASKCHAT_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("TASKCHAT_DB_PATH"); v != "" {
		c.Store.DatabasePath = v
	}
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	if c.Chat.MaxMessageChars <= 0 {
		return fmt.Errorf("chat.max_message_chars must be positive")
	}
	switch c.Chat.TaskRefPolicy {
	case TaskRefStrictID, TaskRefTitleFallback:
	default:
		return fmt.Errorf("chat.task_ref_policy must be %q or %q, got %q",
			TaskRefStrictID, TaskRefTitleFallback, c.Chat.TaskRefPolicy)
	}
	switch c.Chat.ToolCallPersistence {
	case ToolCallPersistSingle, ToolCallPersistIsolated:
	default:
		return fmt.Errorf("chat.tool_call_persistence must be %q or %q, got %q",
			ToolCallPersistSingle, ToolCallPersistIsolated, c.Chat.ToolCallPersistence)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if _, err := c.LLM.ParsedTimeout(); err != nil {
		return fmt.Errorf("llm.timeout invalid: %w", err)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// parseDuration parses a duration string with a fallback default.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ReadTimeoutDuration returns the parsed read timeout.
func (c *ServerConfig) ReadTimeoutDuration() time.Duration {
	return parseDuration(c.ReadTimeout, 15*time.Second)
}

// WriteTimeoutDuration returns the parsed write timeout.
func (c *ServerConfig) WriteTimeoutDuration() time.Duration {
	return parseDuration(c.WriteTimeout, 30*time.Second)
}

// ShutdownTimeoutDuration returns the parsed shutdown grace period.
func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return parseDuration(c.ShutdownTimeout, 10*time.Second)
}
