// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	APIToken    string

	Story StoryConfig

	OpenAI     ProviderConfig
	Gemini     ProviderConfig
	OpenRouter ProviderConfig
}

// StoryConfig controls turn generation behavior.
type StoryConfig struct {
	// Provider pins generation to a named adapter; empty lets the
	// registry pick.
	Provider      string
	TurnTimeout   time.Duration
	MaxAttempts   int
	HistoryWindow int
}

// ProviderConfig holds credentials for one upstream model provider. A
// provider with an empty APIKey is not registered.
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Enabled reports whether this provider has credentials.
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/odissey.db"),
		APIToken:    getEnv("API_TOKEN", ""),
		Story: StoryConfig{
			Provider:      getEnv("STORY_PROVIDER", ""),
			TurnTimeout:   getEnvDuration("TURN_TIMEOUT", 45*time.Second),
			MaxAttempts:   getEnvInt("MAX_ATTEMPTS", 3),
			HistoryWindow: getEnvInt("HISTORY_WINDOW", 12),
		},
		OpenAI: ProviderConfig{
			APIKey: getEnv("OPENAI_API_KEY", ""),
			Model:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Gemini: ProviderConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Model:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		},
		OpenRouter: ProviderConfig{
			APIKey:  getEnv("OPENROUTER_API_KEY", ""),
			Model:   getEnv("OPENROUTER_MODEL", "deepseek/deepseek-r1"),
			BaseURL: getEnv("OPENROUTER_BASE_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Story.TurnTimeout <= 0 {
		return fmt.Errorf("TURN_TIMEOUT must be > 0")
	}
	if c.Story.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be > 0")
	}
	if c.Story.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
