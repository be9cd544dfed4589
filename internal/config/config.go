// Package config provides configuration loading and structs for the diaryrag service.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig selects the record store backends and their locations.
// Backend and Secondary are one of "sqlite", "postgres", "qdrant", "blob";
// an empty Secondary disables the second link of the fallback chain.
type StoreConfig struct {
	Backend   string         `yaml:"backend"`
	Secondary string         `yaml:"secondary"`
	Path      string         `yaml:"path"`
	Index     string         `yaml:"index"`
	Blob      BlobConfig     `yaml:"blob"`
	Postgres  PostgresConfig `yaml:"postgres"`
	Qdrant    QdrantConfig   `yaml:"qdrant"`
}

// BlobConfig locates foreign serialized point blobs: either a sqlite table or a directory
// of .json files. Dir takes precedence when both are set.
type BlobConfig struct {
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// PostgresConfig holds the pgvector backend settings.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// QdrantConfig holds the Qdrant REST backend settings.
type QdrantConfig struct {
	URL            string `yaml:"url"`
	Collection     string `yaml:"collection"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// EmbeddingConfig holds embedder settings. Provider is "onnx", "openai" or "mock".
// TokenizerPath defaults to tokenizer.json next to ModelPath.
type EmbeddingConfig struct {
	Provider      string       `yaml:"provider"`
	ModelPath     string       `yaml:"model_path"`
	TokenizerPath string       `yaml:"tokenizer_path"`
	Dimensions    int          `yaml:"dimensions"`
	MaxTokens     int          `yaml:"max_tokens"`
	CacheSize     int          `yaml:"cache_size"`
	OpenAI        OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig holds settings for the OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// SearchConfig holds single-query defaults applied when a request omits them.
type SearchConfig struct {
	DefaultLimit     int      `yaml:"default_limit"`
	MaxLimit         int      `yaml:"max_limit"`
	DefaultThreshold *float64 `yaml:"default_threshold"`
}

// Threshold returns the configured default threshold.
func (s *SearchConfig) Threshold() float64 {
	if s.DefaultThreshold == nil {
		return DefaultSearchThreshold
	}
	return *s.DefaultThreshold
}

// AggregateConfig holds batch aggregation settings.
type AggregateConfig struct {
	TopK        int     `yaml:"top_k"`
	Threshold   float64 `yaml:"threshold"`
	Parallelism int     `yaml:"parallelism"`
	ResultsDir  string  `yaml:"results_dir"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)

	expandPaths(&cfg, filepath.Dir(path))

	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the default configuration.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg = &Config{}
	ApplyDefaults(cfg)
	applyEnv(cfg)
	expandPaths(cfg, filepath.Dir(path))
	return cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if cfg.Embedding.OpenAI.APIKey != "" {
		return
	}
	for _, key := range []string{"DIARYRAG_OPENAI_API_KEY", "OPENAI_API_KEY"} {
		if v := os.Getenv(key); v != "" {
			cfg.Embedding.OpenAI.APIKey = v
			return
		}
	}
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Store.Path = expandPath(cfg.Store.Path, configDir)
	cfg.Store.Blob.Path = expandPath(cfg.Store.Blob.Path, configDir)
	cfg.Store.Blob.Dir = expandPath(cfg.Store.Blob.Dir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Embedding.TokenizerPath = expandPath(cfg.Embedding.TokenizerPath, configDir)
	cfg.Aggregate.ResultsDir = expandPath(cfg.Aggregate.ResultsDir, configDir)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = path[2:]
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
