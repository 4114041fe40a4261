// Package config loads and validates the shirabe configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds the locations of the raw source and every artifact.
type StorageConfig struct {
	RawDir       string `yaml:"raw_dir"`
	CorpusPath   string `yaml:"corpus_path"`
	IndexDir     string `yaml:"index_dir"`
	DatabasePath string `yaml:"database_path"`
}

// CorpusConfig controls which raw units become records.
type CorpusConfig struct {
	Extensions []string `yaml:"extensions"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider   string       `yaml:"provider"`
	ModelID    string       `yaml:"model_id"`
	ModelPath  string       `yaml:"model_path"`
	VocabPath  string       `yaml:"vocab_path"`
	OutputName string       `yaml:"output_name"`
	Dimensions int          `yaml:"dimensions"`
	MaxTokens  int          `yaml:"max_tokens"`
	BatchSize  int          `yaml:"batch_size"`
	Workers    int          `yaml:"workers"`
	CacheSize  int          `yaml:"cache_size"`
	OpenAI     OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	Metric  string `yaml:"metric"`
	Backend string `yaml:"backend"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// WatchConfig controls automatic rebuilds when the raw directory changes.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// EnabledOrDefault returns whether /metrics is served; defaults to true when unset.
func (m *MetricsConfig) EnabledOrDefault() bool {
	if m.Enabled != nil {
		return *m.Enabled
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, expands
// paths and validates the result.
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
	cfg.expandPaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration built only from defaults, with
// relative paths resolved against the home directory.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.expandPaths("")
	return &cfg
}

// Validate checks enumerated fields and numeric bounds.
func (c *Config) Validate() error {
	switch c.Index.Metric {
	case "l2", "cosine":
	default:
		return fmt.Errorf("invalid index.metric %q: want l2 or cosine", c.Index.Metric)
	}
	switch c.Index.Backend {
	case "flat", "faiss":
	default:
		return fmt.Errorf("invalid index.backend %q: want flat or faiss", c.Index.Backend)
	}
	switch c.Embedding.Provider {
	case "hashing", "onnx", "openai":
	default:
		return fmt.Errorf("invalid embedding.provider %q: want hashing, onnx or openai", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.MaxTokens < 3 {
		return fmt.Errorf("embedding.max_tokens must be at least 3, got %d", c.Embedding.MaxTokens)
	}
	if c.Search.DefaultTopK < 1 {
		return fmt.Errorf("search.default_top_k must be >= 1, got %d", c.Search.DefaultTopK)
	}
	if c.Search.MaxTopK > 0 && c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("search.default_top_k %d exceeds search.max_top_k %d", c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	for _, ext := range c.Corpus.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("corpus.extensions entry %q must start with a dot", ext)
		}
	}
	return nil
}

func (c *Config) expandPaths(configDir string) {
	c.Storage.RawDir = expandPath(c.Storage.RawDir, configDir)
	c.Storage.CorpusPath = expandPath(c.Storage.CorpusPath, configDir)
	c.Storage.IndexDir = expandPath(c.Storage.IndexDir, configDir)
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	if c.Embedding.ModelPath != "" {
		c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	}
	if c.Embedding.VocabPath != "" {
		c.Embedding.VocabPath = expandPath(c.Embedding.VocabPath, configDir)
	}
}

// expandPath converts a path to absolute. "~/" and other relative paths are
// resolved against the home directory; paths starting with "./" are relative
// to configDir.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if configDir != "" && (strings.HasPrefix(path, "./") || path == ".") {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
