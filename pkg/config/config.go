// Package config loads relaycore's two configuration documents: the
// business-level provider/credential config (config.json) and the
// engine-level technical parameters (system.json).
package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// Config is the business-level configuration: which LLM provider groups to
// load, and the scrape/youtube/booksync credentials they each need.
type Config struct {
	// LLM holds the raw "llm" provider-group array, deferred-parsed by
	// pkg/llm's factory so this package never imports llm.
	LLM jsoniter.RawMessage `json:"llm"`

	// Scrape holds the Scrape Client's construction parameters.
	Scrape ScrapeConfig `json:"scrape"`

	// BookSync holds the bookmark-sync subsystem's remote credentials.
	BookSync BookSyncConfig `json:"book_sync"`
}

// ScrapeConfig configures Component J.
type ScrapeConfig struct {
	APIKey            string   `json:"api_key"`
	BaseURL           string   `json:"base_url"`
	TimeoutSeconds    int      `json:"timeout_seconds"`
	MaxRetries        int      `json:"max_retries"`
	MaxConnections    int      `json:"max_connections"`
	MaxKeepAlive      int      `json:"max_keepalive"`
	KeepAliveExpiry   int      `json:"keepalive_expiry_seconds"`
	CreditThreshold   int      `json:"credit_threshold"`
	MaxResponseSizeMB float64  `json:"max_response_size_mb"`
	DefaultFormats    []string `json:"default_formats"`
}

// BookSyncConfig configures the bookmark-sync remote endpoint.
type BookSyncConfig struct {
	RemoteBaseURL string `json:"remote_base_url"`
	APIToken      string `json:"api_token"`
}

// DeepCopy returns a shallow clone of Config; its reference fields (LLM's
// RawMessage and Scrape.DefaultFormats) share their backing arrays with
// the original.
func (c *Config) DeepCopy() *Config {
	newCfg := *c
	return &newCfg
}

// Validate ensures mandatory fields are present before the engine starts.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	return nil
}

// SystemConfig carries engine-level technical parameters: retry/timeout
// knobs shared across the LLM orchestrator, scrape client, and youtube
// pipeline, plus storage budgets for the youtube download cache.
type SystemConfig struct {
	// MaxRetries is how many times the LLM orchestrator retries a single
	// model before moving to the next fallback.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the base backoff delay between retries.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs bounds a single LLM HTTP call.
	LLMTimeoutMs int `json:"llm_timeout_ms"`

	// YouTubeStorageBudgetMB caps the youtube download cache's total size;
	// crossing it triggers auto-cleanup of the oldest completed downloads.
	YouTubeStorageBudgetMB int `json:"youtube_storage_budget_mb"`
	// YouTubeMaxQuality selects the best-effort video quality ceiling.
	YouTubeMaxQuality string `json:"youtube_max_quality"`
	// YouTubeTranscriptLanguages is the preference-ordered language list
	// for manually created and auto-generated transcripts.
	YouTubeTranscriptLanguages []string `json:"youtube_transcript_languages"`

	// BookSyncRetryMaxRetries/BaseDelayMs/MaxDelayMs/BackoffFactor configure
	// the bookmark-sync subsystem's own retry executor, which multiplies
	// its delay by a fixed factor rather than the jittered exponential
	// formula the rest of the engine uses.
	BookSyncRetryMaxRetries  int     `json:"book_sync_retry_max_retries"`
	BookSyncRetryBaseDelayMs int     `json:"book_sync_retry_base_delay_ms"`
	BookSyncRetryMaxDelayMs  int     `json:"book_sync_retry_max_delay_ms"`
	BookSyncRetryBackoff     float64 `json:"book_sync_retry_backoff_factor"`

	// MaxConcurrentOrchestrationCalls bounds in-flight llm.Orchestrator.Chat
	// calls process-wide (1..100).
	MaxConcurrentOrchestrationCalls int `json:"max_concurrent_orchestration_calls"`

	// LogLevel sets the minimum severity for log output: debug/info/warn/error.
	LogLevel string `json:"log_level"`
	// DebugResponses enables persisting raw provider responses for inspection.
	DebugResponses bool `json:"debug_responses"`
}

// DeepCopy returns a full copy of SystemConfig.
func (s *SystemConfig) DeepCopy() *SystemConfig {
	newSys := *s
	return &newSys
}

// DefaultSystemConfig returns a SystemConfig initialized with safe defaults.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:                      3,
		RetryDelayMs:                    500,
		LLMTimeoutMs:                    60000,
		YouTubeStorageBudgetMB:          5000,
		YouTubeMaxQuality:               "1080p",
		YouTubeTranscriptLanguages:      []string{"en"},
		BookSyncRetryMaxRetries:         3,
		BookSyncRetryBaseDelayMs:        500,
		BookSyncRetryMaxDelayMs:         5000,
		BookSyncRetryBackoff:            2.0,
		MaxConcurrentOrchestrationCalls: 20,
		LogLevel:                        "info",
	}
}

// Load reads config.json and system.json from the working directory.
func Load() (*Config, *SystemConfig, error) {
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found, please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig("system.json")
	return &cfg, sysCfg, nil
}

// LoadSystemConfig loads system.json, falling back to defaults on any
// read or parse failure so a missing file never blocks startup.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg
	}
	return cfg
}
