// Package config loads repairbot's YAML configuration, applies environment
// overrides and defaults, and watches the file for hot-reloadable changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline variants.
const (
	VariantSequential  = "sequential"
	VariantToolCalling = "tool_calling"
)

// Config holds all repairbot configuration.
type Config struct {
	Name string `yaml:"name"`

	// Gemini model settings
	LLM LLMConfig `yaml:"llm"`

	// Rate-limit retry policy for streaming
	Retry RetryConfig `yaml:"retry"`

	// iFixit directory client
	Directory DirectoryConfig `yaml:"directory"`

	// Web search fallback
	Search SearchConfig `yaml:"search"`

	// Shared result cache for directory and search calls
	Cache CacheConfig `yaml:"cache"`

	// SQLite persistence
	Store StoreConfig `yaml:"store"`

	// HTTP front door
	Server ServerConfig `yaml:"server"`

	// Stage graph selection and guards
	Pipeline PipelineConfig `yaml:"pipeline"`

	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the Gemini client.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// RetryConfig configures bounded exponential backoff on rate limiting.
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries"`
	BaseDelay  string `yaml:"base_delay"`
}

// DirectoryConfig configures the iFixit API client.
type DirectoryConfig struct {
	BaseURL   string `yaml:"base_url"`
	Timeout   string `yaml:"timeout"`
	UserAgent string `yaml:"user_agent"`
}

// SearchConfig configures the web fallback providers. Tavily is used when a
// key is present; DuckDuckGo needs no key.
type SearchConfig struct {
	TavilyAPIKey     string `yaml:"tavily_api_key"`
	TavilyURL        string `yaml:"tavily_url"`
	InstantAnswerURL string `yaml:"instant_answer_url"`
	HTMLSearchURL    string `yaml:"html_search_url"`
	MaxResults       int    `yaml:"max_results"`
	Timeout          string `yaml:"timeout"`
}

// CacheConfig configures the result cache. A zero or unparsable TTL disables it.
type CacheConfig struct {
	TTL        string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	BypassAuth      bool     `yaml:"bypass_auth"`
	DefaultOwner    string   `yaml:"default_owner"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ReadTimeout     string   `yaml:"read_timeout"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

// PipelineConfig selects the stage graph and its guards.
type PipelineConfig struct {
	Variant           string `yaml:"variant"` // sequential, tool_calling
	MaxToolIterations int    `yaml:"max_tool_iterations"`
	MaxSteps          int    `yaml:"max_steps"`
	HistoryLimit      int    `yaml:"history_limit"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "repairbot",

		LLM: LLMConfig{
			Model:       "gemini-2.5-flash",
			Temperature: 0,
			Timeout:     "120s",
		},

		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  "2s",
		},

		Directory: DirectoryConfig{
			BaseURL:   "https://www.ifixit.com/api/2.0",
			Timeout:   "10s",
			UserAgent: "repairbot/1.0",
		},

		Search: SearchConfig{
			TavilyURL:        "https://api.tavily.com/search",
			InstantAnswerURL: "https://api.duckduckgo.com/",
			HTMLSearchURL:    "https://html.duckduckgo.com/html/",
			MaxResults:       3,
			Timeout:          "10s",
		},

		Cache: CacheConfig{
			TTL:        "15m",
			MaxEntries: 500,
		},

		Store: StoreConfig{
			DatabasePath: "data/repairbot.db",
		},

		Server: ServerConfig{
			Addr:            ":8000",
			DefaultOwner:    "local-dev",
			AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			ReadTimeout:     "15s",
			ShutdownTimeout: "10s",
		},

		Pipeline: PipelineConfig{
			Variant:           VariantSequential,
			MaxToolIterations: 5,
			MaxSteps:          64,
			HistoryLimit:      50,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults;
// environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// GEMINI_API_KEY wins over GOOGLE_API_KEY
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}

	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		c.Search.TavilyAPIKey = key
	}
	if url := os.Getenv("IFIXIT_BASE_URL"); url != "" {
		c.Directory.BaseURL = url
	}
	if path := os.Getenv("REPAIRBOT_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if addr := os.Getenv("REPAIRBOT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if v := os.Getenv("BYPASS_AUTH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.BypassAuth = b
		}
	}
	if lvl := os.Getenv("REPAIRBOT_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the per-call model timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetRetryBaseDelay returns the base backoff delay.
func (c *Config) GetRetryBaseDelay() time.Duration {
	return parseDuration(c.Retry.BaseDelay, 2*time.Second)
}

// GetDirectoryTimeout returns the iFixit HTTP timeout.
func (c *Config) GetDirectoryTimeout() time.Duration {
	return parseDuration(c.Directory.Timeout, 10*time.Second)
}

// GetSearchTimeout returns the web search HTTP timeout.
func (c *Config) GetSearchTimeout() time.Duration {
	return parseDuration(c.Search.Timeout, 10*time.Second)
}

// GetCacheTTL returns the cache TTL; 0 disables caching.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Cache.TTL, 0)
}

// GetReadTimeout returns the HTTP server read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 15*time.Second)
}

// GetShutdownTimeout returns the graceful shutdown budget.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// ValidVariants lists the supported pipeline variants.
var ValidVariants = []string{VariantSequential, VariantToolCalling}

// Validate checks settings that every command depends on.
func (c *Config) Validate() error {
	valid := false
	for _, v := range ValidVariants {
		if c.Pipeline.Variant == v {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid pipeline variant: %s (valid: %v)", c.Pipeline.Variant, ValidVariants)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Pipeline.MaxToolIterations < 1 {
		return fmt.Errorf("pipeline.max_tool_iterations must be >= 1, got %d", c.Pipeline.MaxToolIterations)
	}
	if c.Pipeline.HistoryLimit < 1 {
		return fmt.Errorf("pipeline.history_limit must be >= 1, got %d", c.Pipeline.HistoryLimit)
	}
	if c.Directory.BaseURL == "" {
		return fmt.Errorf("directory.base_url is required")
	}
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required")
	}
	if c.Server.BypassAuth && c.Server.DefaultOwner == "" {
		return fmt.Errorf("server.default_owner is required when bypass_auth is set")
	}
	return nil
}

// ValidateLLM checks that a model can be reached. Commands that only read
// the store skip it.
func (c *Config) ValidateLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or GOOGLE_API_KEY)")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}
