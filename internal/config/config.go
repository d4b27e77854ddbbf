package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable read by LoadConfig
const EnvPrefix = "SQL_ASSIST_"

// Config represents the application configuration
type Config struct {
	Schema     SchemaConfig     `json:"schema"`
	Retrieval  RetrievalConfig  `json:"retrieval"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	LLM        LLMConfig        `json:"llm"`
	Engine     EngineConfig     `json:"engine"`
	Validation ValidationConfig `json:"validation"`
	Cache      CacheConfig      `json:"cache"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
}

// SchemaConfig locates the schema description
type SchemaConfig struct {
	Path   string `json:"path"   env:"SCHEMA_PATH"   envDefault:"schema.csv"`
	Format string `json:"format" env:"SCHEMA_FORMAT" envDefault:""` // csv, json, yaml; empty means by extension
}

// RetrievalConfig controls the schema retriever
type RetrievalConfig struct {
	Enabled bool `json:"enabled" env:"RETRIEVAL_ENABLED" envDefault:"true"`
	TopK    int  `json:"top_k"   env:"RETRIEVAL_TOP_K"   envDefault:"5"`
	Workers int  `json:"workers" env:"RETRIEVAL_WORKERS" envDefault:"4"`
}

// EmbeddingConfig represents embedding provider configuration
type EmbeddingConfig struct {
	Provider     string `json:"provider"      env:"EMBEDDING_PROVIDER"      envDefault:"hash"` // hash, remote
	Model        string `json:"model"         env:"EMBEDDING_MODEL"         envDefault:"text-embedding-3-small"`
	BaseURL      string `json:"base_url"      env:"EMBEDDING_BASE_URL"      envDefault:""`
	APIKey       string `json:"api_key"       env:"EMBEDDING_API_KEY"       envDefault:""`
	Dimensions   int    `json:"dimensions"    env:"EMBEDDING_DIMENSIONS"    envDefault:"256"`
	Timeout      string `json:"timeout"       env:"EMBEDDING_TIMEOUT"       envDefault:"30s"`
	CacheEnabled bool   `json:"cache_enabled" env:"EMBEDDING_CACHE_ENABLED" envDefault:"true"`
}

// LLMConfig represents the generation service configuration
type LLMConfig struct {
	Provider    string  `json:"provider"    env:"LLM_PROVIDER"    envDefault:"openai"` // openai, anthropic, ollama
	Model       string  `json:"model"       env:"LLM_MODEL"       envDefault:"gpt-4-turbo"`
	APIKey      string  `json:"api_key"     env:"LLM_API_KEY"     envDefault:""`
	BaseURL     string  `json:"base_url"    env:"LLM_BASE_URL"    envDefault:""`
	Timeout     string  `json:"timeout"     env:"LLM_TIMEOUT"     envDefault:"60s"`
	Temperature float64 `json:"temperature" env:"LLM_TEMPERATURE" envDefault:"0"`
}

// EngineConfig represents the target database configuration
type EngineConfig struct {
	Driver       string `json:"driver"        env:"DB_DRIVER"        envDefault:"duckdb"` // duckdb, sqlite, postgres
	DSN          string `json:"dsn"           env:"DB_DSN"           envDefault:""`
	QueryTimeout string `json:"query_timeout" env:"DB_QUERY_TIMEOUT" envDefault:"30s"`
	MaxRows      int    `json:"max_rows"      env:"DB_MAX_ROWS"      envDefault:"1000"` // 0 means unlimited
}

// ValidationConfig selects how relationship checks gate a proposal
type ValidationConfig struct {
	Policy   string `json:"policy"    env:"VALIDATION_POLICY"    envDefault:"multi_table"` // enforce, advisory, multi_table
	ReadOnly bool   `json:"read_only" env:"VALIDATION_READ_ONLY" envDefault:"true"`
}

// CacheConfig represents caching configuration
type CacheConfig struct {
	Directory   string `json:"directory"         env:"CACHE_DIR"         envDefault:"~/.cache/sql-assist"`
	MaxSizeMB   int    `json:"max_size_mb"       env:"CACHE_MAX_SIZE_MB" envDefault:"100"`
	TTLHours    int    `json:"ttl_hours"         env:"CACHE_TTL_HOURS"   envDefault:"168"`
	CleanupFreq string `json:"cleanup_frequency" env:"CACHE_CLEANUP_FREQ" envDefault:"1h"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      env:"LOG_LEVEL"      envDefault:"info"`                              // debug, info, warn, error
	Format    string `json:"format"     env:"LOG_FORMAT"     envDefault:"text"`                              // text, json
	Output    string `json:"output"     env:"LOG_OUTPUT"     envDefault:"stderr"`                            // stdout, stderr, file
	File      string `json:"file"       env:"LOG_FILE"       envDefault:"~/.config/sql-assist/logs/app.log"` // log file path when output is file
	AddSource bool   `json:"add_source" env:"LOG_ADD_SOURCE" envDefault:"false"`
}

// MetricsConfig represents the prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"METRICS_ENABLED" envDefault:"false"`
	Listen  string `json:"listen"  env:"METRICS_LISTEN"  envDefault:"127.0.0.1:9464"`
}

// DefaultConfig returns the configuration produced by the env defaults alone
func DefaultConfig() *Config {
	cfg := &Config{}
	// envDefault tags are static, so parsing against an empty environment cannot fail
	_ = env.ParseWithOptions(cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: map[string]string{},
	})

	return cfg
}

// LoadConfig loads configuration from file, environment variables, and command-line flags
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	// Environment first so that it supplies defaults for anything the file leaves out
	envConfig := &Config{}
	if err := env.ParseWithOptions(envConfig, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	config := &Config{}
	*config = *envConfig

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		// Explicitly set variables win over the file
		overlayEnv(config, envConfig)
	}

	applyAPIKeyFallback(config)

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	normalizeConfig(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// overlayEnv copies fields whose environment variable is actually set from
// source into target
func overlayEnv(target, source *Config) {
	tv := reflect.ValueOf(target).Elem()
	sv := reflect.ValueOf(source).Elem()

	for i := range sv.NumField() {
		tSec, sSec := tv.Field(i), sv.Field(i)
		secType := sSec.Type()

		for j := range sSec.NumField() {
			key := secType.Field(j).Tag.Get("env")
			if key == "" {
				continue
			}

			if _, ok := os.LookupEnv(EnvPrefix + key); ok {
				tSec.Field(j).Set(sSec.Field(j))
			}
		}
	}
}

func applyAPIKeyFallback(config *Config) {
	if config.LLM.APIKey == "" {
		switch strings.ToLower(config.LLM.Provider) {
		case "openai":
			config.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			config.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}

	if config.Embedding.APIKey == "" && config.Embedding.Provider == "remote" {
		config.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	// Booleans cannot be told apart from their zero value, so take them from
	// the raw document only when present
	var raw map[string]map[string]json.RawMessage
	_ = json.Unmarshal(data, &raw)

	mergeConfigs(config, &fileConfig, raw)

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) error {
	for key, value := range overrides {
		switch key {
		case "schema":
			if str, ok := value.(string); ok && str != "" {
				config.Schema.Path = str
			}
		case "driver":
			if str, ok := value.(string); ok && str != "" {
				config.Engine.Driver = str
			}
		case "dsn":
			if str, ok := value.(string); ok && str != "" {
				config.Engine.DSN = str
			}
		case "provider":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Provider = str
			}
		case "model":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Model = str
			}
		case "policy":
			if str, ok := value.(string); ok && str != "" {
				config.Validation.Policy = str
			}
		case "top-k":
			if n, ok := value.(int); ok && n > 0 {
				config.Retrieval.TopK = n
			}
		case "full-context":
			if b, ok := value.(bool); ok && b {
				config.Retrieval.Enabled = false
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "verbose":
			if b, ok := value.(bool); ok && b {
				config.Logging.Level = "debug"
			}
		case "cache-dir":
			if str, ok := value.(string); ok && str != "" {
				config.Cache.Directory = str
			}
		case "metrics":
			if str, ok := value.(string); ok && str != "" {
				config.Metrics.Enabled = true
				config.Metrics.Listen = str
			}
		default:
			return fmt.Errorf("unknown flag override: %s", key)
		}
	}

	return nil
}

// mergeConfigs merges source configuration into target configuration
func mergeConfigs(target, source *Config, raw map[string]map[string]json.RawMessage) {
	tv := reflect.ValueOf(target).Elem()
	sv := reflect.ValueOf(source).Elem()
	st := sv.Type()

	for i := range sv.NumField() {
		section := jsonName(st.Field(i))
		tSec, sSec := tv.Field(i), sv.Field(i)
		secType := sSec.Type()

		for j := range sSec.NumField() {
			field := sSec.Field(j)
			name := jsonName(secType.Field(j))

			if field.Kind() == reflect.Bool {
				if _, present := raw[section][name]; present {
					tSec.Field(j).Set(field)
				}

				continue
			}

			if !field.IsZero() {
				tSec.Field(j).Set(field)
			}
		}
	}
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}

	return name
}

// normalizeConfig lower-cases the enumerated settings so that every consumer
// can match them exactly, whichever source they came from
func normalizeConfig(config *Config) {
	for _, field := range []*string{
		&config.Logging.Level,
		&config.Logging.Format,
		&config.Logging.Output,
		&config.LLM.Provider,
		&config.Embedding.Provider,
		&config.Engine.Driver,
		&config.Validation.Policy,
		&config.Schema.Format,
	} {
		*field = strings.ToLower(strings.TrimSpace(*field))
	}
}

// validateConfig validates the configuration for common errors. Enumerated
// values must already be normalized.
func validateConfig(config *Config) error {
	oneOf := func(value, field string, allowed ...string) error {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}

		return fmt.Errorf("invalid %s: %s (must be one of %s)", field, value, strings.Join(allowed, ", "))
	}

	checks := []error{
		oneOf(config.Logging.Level, "log level", "debug", "info", "warn", "error"),
		oneOf(config.Logging.Format, "log format", "text", "json"),
		oneOf(config.Logging.Output, "log output", "stdout", "stderr", "file"),
		oneOf(config.LLM.Provider, "llm provider", "openai", "anthropic", "ollama"),
		oneOf(config.Embedding.Provider, "embedding provider", "hash", "remote"),
		oneOf(config.Engine.Driver, "database driver", "duckdb", "sqlite", "postgres"),
		oneOf(config.Validation.Policy, "validation policy", "enforce", "advisory", "multi_table"),
	}
	if config.Schema.Format != "" {
		checks = append(checks, oneOf(config.Schema.Format, "schema format", "csv", "json", "yaml"))
	}

	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	durations := map[string]string{
		"llm timeout":             config.LLM.Timeout,
		"embedding timeout":       config.Embedding.Timeout,
		"database query timeout":  config.Engine.QueryTimeout,
		"cache cleanup frequency": config.Cache.CleanupFreq,
	}
	for field, value := range durations {
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return fmt.Errorf("invalid %s: %s", field, value)
		}
	}

	if config.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive: %d", config.Retrieval.TopK)
	}

	if config.Retrieval.Workers <= 0 {
		return fmt.Errorf("retrieval workers must be positive: %d", config.Retrieval.Workers)
	}

	if config.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive: %d", config.Embedding.Dimensions)
	}

	if config.Engine.MaxRows < 0 {
		return fmt.Errorf("database max rows must not be negative: %d", config.Engine.MaxRows)
	}

	if config.LLM.Temperature < 0 || config.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature out of range: %v", config.LLM.Temperature)
	}

	return nil
}

// Duration parses a validated duration string; invalid input yields zero
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}

	return d
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config) error {
	configPath := getConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config.Redacted(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Redacted returns a copy safe to print or persist, with API keys masked
func (c *Config) Redacted() *Config {
	out := *c
	if out.LLM.APIKey != "" {
		out.LLM.APIKey = "***"
	}

	if out.Embedding.APIKey != "" {
		out.Embedding.APIKey = "***"
	}

	return &out
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv(EnvPrefix + "CONFIG"); configPath != "" {
		return ExpandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Schema.Path = ExpandPath(c.Schema.Path)
	c.Cache.Directory = ExpandPath(c.Cache.Directory)
	c.Logging.File = ExpandPath(c.Logging.File)

	if c.Engine.Driver != "postgres" {
		c.Engine.DSN = ExpandPath(c.Engine.DSN)
	}
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/sql-assist"
	}

	return filepath.Join(homeDir, ".config", "sql-assist")
}

// EnsureDirectories creates necessary directories for the configuration
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Cache.Directory}
	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}
