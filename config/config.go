// Package config loads runtime settings from an optional YAML file and
// RAGCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hubenschmidt/go-ragcore/core"
)

// Config holds all application configuration.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type StoreConfig struct {
	// DSN selects the backend: memory://, postgres://..., or a SQLite path.
	DSN       string `mapstructure:"dsn"`
	Dimension int    `mapstructure:"dimension"`
}

type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	BatchSize         int           `mapstructure:"batch_size"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

type RetrievalConfig struct {
	Threshold  float64 `mapstructure:"threshold"`
	MaxResults int     `mapstructure:"max_results"`
	Verify     bool    `mapstructure:"verify"`
}

type LLMConfig struct {
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`

	// OllamaURL serves models named "ollama/<model>".
	OllamaURL string `mapstructure:"ollama_url"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var defaults = map[string]any{
	"store.dsn":                     "data/knowledge.db",
	"store.dimension":               1536,
	"embedding.provider":            "openai",
	"embedding.model":               "text-embedding-3-small",
	"embedding.base_url":            "",
	"embedding.api_key":             "",
	"embedding.timeout":             60 * time.Second,
	"embedding.batch_size":          16,
	"embedding.concurrency":         1,
	"embedding.requests_per_second": 0.0,
	"embedding.burst":               1,
	"chunking.size":                 384,
	"chunking.overlap":              40,
	"retrieval.threshold":           0.0,
	"retrieval.max_results":         5,
	"retrieval.verify":              false,
	"llm.model":                     "gpt-4o-mini",
	"llm.api_key":                   "",
	"llm.base_url":                  "",
	"llm.ollama_url":                "http://localhost:11434",
	"tracing.otlp_endpoint":         "",
	"tracing.sample_rate":           1.0,
	"log.level":                     "info",
}

// Load reads configuration from path, if non-empty, and the environment.
// Every key has a default, so RAGCORE_STORE_DSN and friends work without a
// file.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("RAGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Validate reports settings no component could run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Dimension <= 0 {
		errs = append(errs, core.Configuration("store.dimension must be positive, got %d", c.Store.Dimension))
	}
	if c.Chunking.Size <= 0 {
		errs = append(errs, core.Configuration("chunking.size must be positive, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, core.Configuration("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap))
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		errs = append(errs, core.Configuration("retrieval.threshold must be in [0,1], got %g", c.Retrieval.Threshold))
	}
	if c.Retrieval.MaxResults <= 0 {
		errs = append(errs, core.Configuration("retrieval.max_results must be positive, got %d", c.Retrieval.MaxResults))
	}
	if c.Embedding.Model == "" {
		errs = append(errs, core.Configuration("embedding.model is required"))
	}
	return errors.Join(errs...)
}

// Warnings returns settings that are legal but probably unintended.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		warnings = append(warnings, "embedding provider 'openai' is configured but api_key is empty")
	}
	if c.Retrieval.Verify {
		warnings = append(warnings, "retrieval.verify is on: every search also ranks by brute force")
	}
	return warnings
}

// LogLevel parses log.level, falling back to info.
func (c *Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
