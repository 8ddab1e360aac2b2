package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8742, cfg.Port)
	assert.Equal(t, "qwen2.5vl:7b", cfg.OllamaModel)
	assert.Equal(t, 10*time.Minute, cfg.HealthTimeout)
	assert.Equal(t, 2, cfg.HealthMaxAttempts)
	assert.Equal(t, 8000, cfg.MaxTokenMemory)
	assert.Equal(t, 7000, cfg.TokenBufferThreshold)

	p := cfg.RetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("PORT", "9000")
	t.Setenv("OLLAMA_STREAM", "false")
	t.Setenv("GENERATION_TIMEOUT", "90s")
	t.Setenv("HEALTH_TIMEOUT", "1500")
	t.Setenv("RETRY_ENABLED", "false")
	t.Setenv("TUTOR_DB_PATH", "")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.False(t, cfg.OllamaStream)
	assert.Equal(t, 90*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.HealthTimeout)
	assert.Equal(t, 1, cfg.RetryPolicy().MaxAttempts)
	assert.Empty(t, cfg.DBPath, "an empty TUTOR_DB_PATH disables persistence")
	assert.Equal(t, "DEBUG", cfg.SlogLevel().String())
}

func TestFileUnderEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tutor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9100
ollama_model: llava:13b
retry_initial_delay: 250ms
max_token_memory: 4000
token_buffer_threshold: 3000
qdrant_url: http://qdrant:6333
`), 0o644))
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("PORT", "9200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Port, "environment wins over the file")
	assert.Equal(t, "llava:13b", cfg.OllamaModel)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryInitialDelay)
	assert.Equal(t, 4000, cfg.MaxTokenMemory)
	assert.Equal(t, "http://qdrant:6333", cfg.QdrantURL)
	assert.True(t, cfg.OllamaStream, "unset file keys keep defaults")
}

func TestLoadBadFile(t *testing.T) {
	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.ErrorContains(t, err, "read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold equals max", func(c *Config) { c.TokenBufferThreshold = c.MaxTokenMemory }, "TOKEN_BUFFER_THRESHOLD"},
		{"threshold above max", func(c *Config) { c.TokenBufferThreshold = 9000 }, "TOKEN_BUFFER_THRESHOLD"},
		{"zero retry attempts", func(c *Config) { c.RetryMaxAttempts = 0 }, "retry"},
		{"max delay below initial", func(c *Config) { c.RetryMaxDelay = time.Millisecond }, "retry"},
		{"zero health attempts", func(c *Config) { c.HealthMaxAttempts = 0 }, "HEALTH_MAX_ATTEMPTS"},
		{"bad port", func(c *Config) { c.Port = 0 }, "PORT"},
		{"no model", func(c *Config) { c.OllamaModel = "" }, "OLLAMA_MODEL"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"bad dim", func(c *Config) { c.EmbeddingDim = 0 }, "EMBEDDING_DIM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	disabled := Defaults()
	disabled.RetryEnabled = false
	disabled.RetryMaxAttempts = 0
	assert.NoError(t, disabled.Validate(), "attempt budget is ignored when retries are off")
}
