package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iammorganparry/clive/apps/tutor/internal/retry"
)

// ConfigFileEnv names the optional YAML file layered under the
// environment.
const ConfigFileEnv = "TUTOR_CONFIG"

type Config struct {
	Port   int    `yaml:"port"`
	DBPath string `yaml:"db_path"` // empty disables persistence
	APIKey string `yaml:"api_key"`

	// Model backend
	OllamaBaseURL     string        `yaml:"ollama_base_url"`
	OllamaModel       string        `yaml:"ollama_model"`
	OllamaStream      bool          `yaml:"ollama_stream"`
	HealthTimeout     time.Duration `yaml:"health_timeout"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	HealthMaxAttempts int           `yaml:"health_max_attempts"`

	// Retry
	RetryEnabled      bool          `yaml:"retry_enabled"`
	RetryMaxAttempts  int           `yaml:"retry_max_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`

	// Token budget
	MaxTokenMemory       int `yaml:"max_token_memory"`
	TokenBufferThreshold int `yaml:"token_buffer_threshold"`
	ModelContextSize     int `yaml:"model_context_size"`
	ModelMaxOutputTokens int `yaml:"model_max_output_tokens"`

	// Page embeddings
	EmbeddingModel string `yaml:"embedding_model"`
	EmbeddingDim   int    `yaml:"embedding_dim"`
	QdrantURL      string `yaml:"qdrant_url"` // empty disables Qdrant

	LogLevel string `yaml:"log_level"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:                 8742,
		DBPath:               "/data/tutor.db",
		OllamaBaseURL:        "http://localhost:11434",
		OllamaModel:          "qwen2.5vl:7b",
		OllamaStream:         true,
		HealthTimeout:        10 * time.Minute,
		GenerationTimeout:    10 * time.Minute,
		HealthMaxAttempts:    2,
		RetryEnabled:         true,
		RetryMaxAttempts:     3,
		RetryInitialDelay:    time.Second,
		RetryMaxDelay:        10 * time.Second,
		MaxTokenMemory:       8000,
		TokenBufferThreshold: 7000,
		ModelContextSize:     8192,
		ModelMaxOutputTokens: 2048,
		EmbeddingModel:       "nomic-embed-text",
		EmbeddingDim:         768,
		LogLevel:             "info",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// TUTOR_CONFIG if set, then the environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv(ConfigFileEnv))
}

// LoadFrom is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFrom(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PORT", c.Port)
	c.DBPath = envStrAllowEmpty("TUTOR_DB_PATH", c.DBPath)
	c.APIKey = envStr("API_KEY", c.APIKey)

	c.OllamaBaseURL = envStr("OLLAMA_BASE_URL", c.OllamaBaseURL)
	c.OllamaModel = envStr("OLLAMA_MODEL", c.OllamaModel)
	c.OllamaStream = envBool("OLLAMA_STREAM", c.OllamaStream)
	c.HealthTimeout = envDuration("HEALTH_TIMEOUT", c.HealthTimeout)
	c.GenerationTimeout = envDuration("GENERATION_TIMEOUT", c.GenerationTimeout)
	c.HealthMaxAttempts = envInt("HEALTH_MAX_ATTEMPTS", c.HealthMaxAttempts)

	c.RetryEnabled = envBool("RETRY_ENABLED", c.RetryEnabled)
	c.RetryMaxAttempts = envInt("RETRY_MAX_ATTEMPTS", c.RetryMaxAttempts)
	c.RetryInitialDelay = envDuration("RETRY_INITIAL_DELAY", c.RetryInitialDelay)
	c.RetryMaxDelay = envDuration("RETRY_MAX_DELAY", c.RetryMaxDelay)

	c.MaxTokenMemory = envInt("MAX_TOKEN_MEMORY", c.MaxTokenMemory)
	c.TokenBufferThreshold = envInt("TOKEN_BUFFER_THRESHOLD", c.TokenBufferThreshold)
	c.ModelContextSize = envInt("MODEL_CONTEXT_SIZE", c.ModelContextSize)
	c.ModelMaxOutputTokens = envInt("MODEL_MAX_OUTPUT_TOKENS", c.ModelMaxOutputTokens)

	c.EmbeddingModel = envStr("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingDim = envInt("EMBEDDING_DIM", c.EmbeddingDim)
	c.QdrantURL = envStr("QDRANT_URL", c.QdrantURL)

	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
}

// Validate checks field bounds and cross-field constraints.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.OllamaBaseURL == "" {
		return fmt.Errorf("OLLAMA_BASE_URL must not be empty")
	}
	if c.OllamaModel == "" {
		return fmt.Errorf("OLLAMA_MODEL must not be empty")
	}
	if c.HealthTimeout < 0 || c.GenerationTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.HealthMaxAttempts < 1 {
		return fmt.Errorf("HEALTH_MAX_ATTEMPTS must be at least 1, got %d", c.HealthMaxAttempts)
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.MaxTokenMemory < 1 {
		return fmt.Errorf("MAX_TOKEN_MEMORY must be positive, got %d", c.MaxTokenMemory)
	}
	if c.TokenBufferThreshold < 0 || c.TokenBufferThreshold >= c.MaxTokenMemory {
		return fmt.Errorf("TOKEN_BUFFER_THRESHOLD must be in [0, MAX_TOKEN_MEMORY), got %d with MAX_TOKEN_MEMORY %d",
			c.TokenBufferThreshold, c.MaxTokenMemory)
	}
	if c.ModelContextSize < 0 || c.ModelMaxOutputTokens < 0 {
		return fmt.Errorf("model token limits must not be negative")
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// RetryPolicy returns the production policy for generation calls. With
// retries disabled every call gets exactly one attempt.
func (c *Config) RetryPolicy() retry.Policy {
	attempts := c.RetryMaxAttempts
	if !c.RetryEnabled {
		attempts = 1
	}
	return retry.Policy{
		MaxAttempts:  attempts,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
	}
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", s)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envStrAllowEmpty treats a set-but-empty variable as a value.
func envStrAllowEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s") or bare milliseconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
