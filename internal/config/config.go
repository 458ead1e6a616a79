package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	Logging    Logging    `mapstructure:"logging"`
	AI         AI         `mapstructure:"ai"`
	Fetch      Fetch      `mapstructure:"fetch"`
	Cache      Cache      `mapstructure:"cache"`
	Pipeline   Pipeline   `mapstructure:"pipeline"`
	Summarizer Summarizer `mapstructure:"summarizer"`
	Delivery   Delivery   `mapstructure:"delivery"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	DataDir    string `mapstructure:"data_dir"`
	ConfigFile string `mapstructure:"config_file"`
}

// Logging holds logger configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AI holds AI/LLM configuration
type AI struct {
	Provider string       `mapstructure:"provider"`
	Timeout  string       `mapstructure:"timeout"`
	Gemini   GeminiConfig `mapstructure:"gemini"`
	OpenAI   OpenAIConfig `mapstructure:"openai"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
}

// OpenAIConfig holds configuration for OpenAI-compatible chat endpoints
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// Fetch holds HTTP fetch client configuration
type Fetch struct {
	Timeout           string  `mapstructure:"timeout"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryDelay        string  `mapstructure:"retry_delay"`
	UserAgent         string  `mapstructure:"user_agent"`
	MaxArticles       int     `mapstructure:"max_articles"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Cache holds cache configuration
type Cache struct {
	Backend   string    `mapstructure:"backend"` // sqlite or memory
	Directory string    `mapstructure:"directory"`
	TTL       TTLConfig `mapstructure:"ttl"`
}

// TTLConfig holds TTL configuration for different cached results
type TTLConfig struct {
	Relevance   string `mapstructure:"relevance"`
	Similarity  string `mapstructure:"similarity"`
	Checkpoints string `mapstructure:"checkpoints"`
}

// Pipeline holds scoring and orchestration settings
type Pipeline struct {
	MinContentLength    int     `mapstructure:"min_content_length"`
	SpamDetection       bool    `mapstructure:"spam_detection"`
	AIQualityScoring    bool    `mapstructure:"ai_quality_scoring"`
	SemanticScoring     bool    `mapstructure:"semantic_scoring"`
	MaxTopics           int     `mapstructure:"max_topics"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	FetchConcurrency    int     `mapstructure:"fetch_concurrency"`
	BatchConcurrency    int     `mapstructure:"batch_concurrency"`
	MaxDigestGroups     int     `mapstructure:"max_digest_groups"`
}

// Summarizer holds summary generation settings
type Summarizer struct {
	DefaultStyle         string  `mapstructure:"default_style"`
	CustomPrompts        bool    `mapstructure:"custom_prompts"`
	SafetyJudge          bool    `mapstructure:"safety_judge"`
	SafetyJudgeThreshold float64 `mapstructure:"safety_judge_threshold"`
}

// Delivery holds digest delivery settings
type Delivery struct {
	Method    string `mapstructure:"method"` // file or log
	OutputDir string `mapstructure:"output_dir"`
	Theme     string `mapstructure:"theme"` // default or minimal
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".periscope")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.SetEnvPrefix("PERISCOPE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.ConfigFile = viper.ConfigFileUsed()

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".periscope")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")

	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.timeout", "60s")
	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.temperature", 0.2)
	viper.SetDefault("ai.openai.model", "gpt-4o-mini")
	viper.SetDefault("ai.openai.base_url", "https://api.openai.com/v1")

	viper.SetDefault("fetch.timeout", "30s")
	viper.SetDefault("fetch.max_retries", 3)
	viper.SetDefault("fetch.retry_delay", "1s")
	viper.SetDefault("fetch.user_agent", "Periscope/1.0 (+https://github.com/periscope)")
	viper.SetDefault("fetch.max_articles", 50)
	viper.SetDefault("fetch.requests_per_second", 5.0)
	viper.SetDefault("fetch.burst", 5)

	viper.SetDefault("cache.backend", "sqlite")
	viper.SetDefault("cache.directory", ".periscope")
	viper.SetDefault("cache.ttl.relevance", "24h")
	viper.SetDefault("cache.ttl.similarity", "168h")
	viper.SetDefault("cache.ttl.checkpoints", "48h")

	viper.SetDefault("pipeline.min_content_length", 100)
	viper.SetDefault("pipeline.spam_detection", true)
	viper.SetDefault("pipeline.ai_quality_scoring", true)
	viper.SetDefault("pipeline.semantic_scoring", true)
	viper.SetDefault("pipeline.max_topics", 5)
	viper.SetDefault("pipeline.similarity_threshold", 0.7)
	viper.SetDefault("pipeline.fetch_concurrency", 8)
	viper.SetDefault("pipeline.batch_concurrency", 4)
	viper.SetDefault("pipeline.max_digest_groups", 0)

	viper.SetDefault("summarizer.default_style", "brief")
	viper.SetDefault("summarizer.custom_prompts", true)
	viper.SetDefault("summarizer.safety_judge", true)
	viper.SetDefault("summarizer.safety_judge_threshold", 0.8)

	viper.SetDefault("delivery.method", "file")
	viper.SetDefault("delivery.output_dir", "digests")
	viper.SetDefault("delivery.theme", "default")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("ai.openai.api_key", []string{
		"OPENAI_API_KEY",
	})

	bindEnvKeys("ai.openai.base_url", []string{
		"OPENAI_BASE_URL",
	})

	bindEnvKeys("ai.provider", []string{
		"PERISCOPE_AI_PROVIDER",
		"AI_PROVIDER",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"PERISCOPE_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.Cache.Directory != "" {
		config.Cache.Directory = expandPath(config.Cache.Directory)
	}
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.Delivery.OutputDir != "" {
		config.Delivery.OutputDir = expandPath(config.Delivery.OutputDir)
	}
	if config.App.Debug {
		config.Logging.Level = "debug"
	}

	durations := map[string]string{
		"ai.timeout":            config.AI.Timeout,
		"fetch.timeout":         config.Fetch.Timeout,
		"fetch.retry_delay":     config.Fetch.RetryDelay,
		"cache.ttl.relevance":   config.Cache.TTL.Relevance,
		"cache.ttl.similarity":  config.Cache.TTL.Similarity,
		"cache.ttl.checkpoints": config.Cache.TTL.Checkpoints,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures the configured values are usable
func validateConfig(config *Config) error {
	var errors []string

	switch config.AI.Provider {
	case "gemini", "openai", "none":
	default:
		errors = append(errors, fmt.Sprintf("Unknown AI provider: %s. Supported: gemini, openai, none", config.AI.Provider))
	}

	switch config.Cache.Backend {
	case "sqlite", "memory":
	default:
		errors = append(errors, fmt.Sprintf("Unknown cache backend: %s. Supported: sqlite, memory", config.Cache.Backend))
	}

	switch config.Delivery.Method {
	case "file", "log":
	default:
		errors = append(errors, fmt.Sprintf("Unknown delivery method: %s. Supported: file, log", config.Delivery.Method))
	}

	if config.Pipeline.SimilarityThreshold < 0 || config.Pipeline.SimilarityThreshold > 1 {
		errors = append(errors, "pipeline.similarity_threshold must be within [0,1]")
	}
	if config.Summarizer.SafetyJudgeThreshold < 0 || config.Summarizer.SafetyJudgeThreshold > 1 {
		errors = append(errors, "summarizer.safety_judge_threshold must be within [0,1]")
	}
	if config.Pipeline.FetchConcurrency < 1 || config.Pipeline.BatchConcurrency < 1 {
		errors = append(errors, "pipeline concurrency limits must be at least 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Duration parses a duration value already checked by postProcessConfig,
// returning fallback when it is empty.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// APIKey returns the key for the configured provider.
func (a AI) APIKey() string {
	switch a.Provider {
	case "openai":
		return a.OpenAI.APIKey
	default:
		return a.Gemini.APIKey
	}
}

// Model returns the model for the configured provider.
func (a AI) Model() string {
	switch a.Provider {
	case "openai":
		return a.OpenAI.Model
	default:
		return a.Gemini.Model
	}
}

// HasValidAPIKey returns true if the configured provider has a usable key
func (a AI) HasValidAPIKey() bool {
	return isValidAPIKey(a.APIKey())
}

// isValidAPIKey checks if an API key is valid (not empty and not a placeholder)
func isValidAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}

	placeholders := []string{
		"your-api-key", "your-gemini-key", "your-openai-key",
		"YOUR_API_KEY", "PLACEHOLDER", "TODO", "CHANGE_ME",
	}

	for _, placeholder := range placeholders {
		if apiKey == placeholder {
			return false
		}
	}

	return true
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
