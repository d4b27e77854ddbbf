package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "schema.csv", cfg.Schema.Path)
	assert.True(t, cfg.Retrieval.Enabled)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4-turbo", cfg.LLM.Model)
	assert.Equal(t, "duckdb", cfg.Engine.Driver)
	assert.Equal(t, "30s", cfg.Engine.QueryTimeout)
	assert.Equal(t, "multi_table", cfg.Validation.Policy)
	assert.True(t, cfg.Validation.ReadOnly)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.False(t, cfg.Metrics.Enabled)

	require.NoError(t, validateConfig(cfg))
}

func TestLoadConfigFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")

	testConfig := map[string]interface{}{
		"schema": map[string]interface{}{
			"path": "/data/schema.yaml",
		},
		"llm": map[string]interface{}{
			"provider": "anthropic",
			"model":    "claude-3-haiku",
		},
		"retrieval": map[string]interface{}{
			"enabled": false,
			"top_k":   8,
		},
		"logging": map[string]interface{}{
			"level":  "debug",
			"format": "json",
		},
	}

	data, err := json.MarshalIndent(testConfig, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0600))

	config := DefaultConfig()
	require.NoError(t, loadConfigFromFile(config, configPath))

	assert.Equal(t, "/data/schema.yaml", config.Schema.Path)
	assert.Equal(t, "anthropic", config.LLM.Provider)
	assert.Equal(t, "claude-3-haiku", config.LLM.Model)
	assert.False(t, config.Retrieval.Enabled)
	assert.Equal(t, 8, config.Retrieval.TopK)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)

	// untouched sections keep their defaults
	assert.Equal(t, "duckdb", config.Engine.Driver)
	assert.True(t, config.Validation.ReadOnly)
}

func TestLoadConfigFromFileInvalidJSON(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")

	require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0600))

	err := loadConfigFromFile(DefaultConfig(), configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadConfigWithOverridesEnvBeatsFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"engine":{"driver":"sqlite","dsn":"file.db"}}`), 0600))

	t.Setenv("SQL_ASSIST_CONFIG", configPath)
	t.Setenv("SQL_ASSIST_DB_DSN", "env.db")

	cfg, err := LoadConfigWithOverrides(nil)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Engine.Driver)
	assert.Equal(t, "env.db", cfg.Engine.DSN)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
}

func TestLoadConfigWithFlagOverrides(t *testing.T) {
	t.Setenv("SQL_ASSIST_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := LoadConfigWithOverrides(map[string]interface{}{
		"schema":       "/tmp/schema.json",
		"top-k":        3,
		"full-context": true,
		"policy":       "enforce",
		"verbose":      true,
		"metrics":      ":9999",
	})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/schema.json", cfg.Schema.Path)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.False(t, cfg.Retrieval.Enabled)
	assert.Equal(t, "enforce", cfg.Validation.Policy)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9999", cfg.Metrics.Listen)
}

func TestLoadConfigNormalizesEnumeratedValues(t *testing.T) {
	t.Setenv("SQL_ASSIST_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("SQL_ASSIST_EMBEDDING_PROVIDER", "Hash")
	t.Setenv("SQL_ASSIST_LOG_FORMAT", " JSON ")

	cfg, err := LoadConfigWithOverrides(map[string]interface{}{
		"driver":    "DuckDB",
		"provider":  "OpenAI",
		"policy":    "Multi_Table",
		"log-level": "WARN",
	})
	require.NoError(t, err)

	assert.Equal(t, "duckdb", cfg.Engine.Driver)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "multi_table", cfg.Validation.Policy)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfigUnknownOverride(t *testing.T) {
	t.Setenv("SQL_ASSIST_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	_, err := LoadConfigWithOverrides(map[string]interface{}{"bogus": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag override")
}

func TestAPIKeyFallback(t *testing.T) {
	t.Setenv("SQL_ASSIST_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("SQL_ASSIST_LLM_PROVIDER", "anthropic")
	t.Setenv("SQL_ASSIST_LLM_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.LLM.APIKey)
	assert.Equal(t, "***", cfg.Redacted().LLM.APIKey)
	assert.Equal(t, "sk-ant-test", cfg.LLM.APIKey, "Redacted must not mutate the original")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"bad provider", func(c *Config) { c.LLM.Provider = "bard" }, "invalid llm provider"},
		{"bad driver", func(c *Config) { c.Engine.Driver = "oracle" }, "invalid database driver"},
		{"unnormalized driver", func(c *Config) { c.Engine.Driver = "DuckDB" }, "invalid database driver"},
		{"bad policy", func(c *Config) { c.Validation.Policy = "strict" }, "invalid validation policy"},
		{"bad schema format", func(c *Config) { c.Schema.Format = "xlsx" }, "invalid schema format"},
		{"bad timeout", func(c *Config) { c.LLM.Timeout = "soon" }, "invalid llm timeout"},
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }, "top_k must be positive"},
		{"negative max rows", func(c *Config) { c.Engine.MaxRows = -1 }, "max rows must not be negative"},
		{"hot temperature", func(c *Config) { c.LLM.Temperature = 3 }, "temperature out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, Duration("30s"))
	assert.Equal(t, time.Duration(0), Duration("nonsense"))
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, homeDir, ExpandPath("~"))
	assert.Equal(t, filepath.Join(homeDir, "schema.csv"), ExpandPath("~/schema.csv"))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
	assert.Equal(t, "relative/path", ExpandPath("relative/path"))
}

func TestSaveConfigRedactsKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.json")
	t.Setenv("SQL_ASSIST_CONFIG", configPath)

	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-secret"
	require.NoError(t, SaveConfig(cfg))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")
	assert.Contains(t, string(data), `"multi_table"`)
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Directory = filepath.Join(t.TempDir(), "cache", "vectors")

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, cfg.Cache.Directory)
}
