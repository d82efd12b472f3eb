// Package config loads the .testpilot/config.json user configuration and
// resolves the active backend from config and environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// DefaultDirName is the per-project configuration directory.
const DefaultDirName = ".testpilot"

// Config holds all testpilot configuration.
type Config struct {
	// Backend selection
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// API keys, overridable from the environment
	OpenAIAPIKey    string `json:"openai_api_key"`
	AnthropicAPIKey string `json:"anthropic_api_key"`
	GeminiAPIKey    string `json:"gemini_api_key"`

	// Generation settings
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	MaxAttempts      int     `json:"max_attempts"`
	QualityThreshold float64 `json:"quality_threshold"`

	// Execution settings
	PythonBinary   string `json:"python_binary"`
	TimeoutSeconds int    `json:"timeout_seconds"`

	// Cache settings
	CachePath    string `json:"cache_path"`
	CacheEnabled bool   `json:"cache_enabled"`

	// GitHub integration
	GitHubToken string `json:"github_token"`
	GitHubRepo  string `json:"github_repo"`

	Logging LoggingConfig `json:"logging"`
}

// LoggingConfig mirrors the section the logging package reads directly.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Temperature:      0.2,
		MaxTokens:        4096,
		MaxAttempts:      3,
		QualityThreshold: 0.8,
		PythonBinary:     "python",
		TimeoutSeconds:   30,
		CachePath:        filepath.Join(DefaultDirName, "cache.db"),
		CacheEnabled:     true,
	}
}

// DefaultPath returns the config file path under the given workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, DefaultDirName, "config.json")
}

// Load reads the config file, falling back to defaults when it is absent,
// then applies environment overrides. A .env file in the working directory
// is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables on the loaded values. Environment
// wins over the file for keys, the file wins for provider selection.
func (c *Config) applyEnv() {
	if v := os.Getenv("TESTPILOT_PROVIDER"); v != "" && c.Provider == "" {
		c.Provider = v
	}
	if v := os.Getenv("TESTPILOT_MODEL"); v != "" && c.Model == "" {
		c.Model = v
	}
	if v := os.Getenv("TESTPILOT_PYTHON"); v != "" {
		c.PythonBinary = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAIAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.AnthropicAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.GeminiAPIKey = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" && c.GitHubToken == "" {
		c.GitHubToken = v
	}
}

// APIKeyFor returns the configured key for a provider name.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

// DetectProvider resolves the active provider and its key. An explicit
// provider in config wins; otherwise the first provider with a key is used,
// checked in the order openai, anthropic, gemini.
func (c *Config) DetectProvider() (string, string, error) {
	if c.Provider != "" {
		key := c.APIKeyFor(c.Provider)
		if key == "" {
			return "", "", fmt.Errorf("provider %q configured but no API key found", c.Provider)
		}
		return c.Provider, key, nil
	}

	for _, name := range []string{"openai", "anthropic", "gemini"} {
		if key := c.APIKeyFor(name); key != "" {
			return name, key, nil
		}
	}
	return "", "", fmt.Errorf("no API key found; set one of OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY or configure %s", filepath.Join(DefaultDirName, "config.json"))
}

// ExecutionTimeout converts the configured seconds to a duration.
func (c *Config) ExecutionTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Save writes the config back to path, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
