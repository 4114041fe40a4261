package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
index:
  metric: cosine
embedding:
  dimensions: 64
watch:
  enabled: true
  debounce: 250ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr() != "127.0.0.1:9000" {
		t.Errorf("unexpected server addr: %s", cfg.Server.Addr())
	}
	if cfg.Index.Metric != "cosine" {
		t.Errorf("metric = %q", cfg.Index.Metric)
	}
	if cfg.Embedding.Dimensions != 64 {
		t.Errorf("dimensions = %d", cfg.Embedding.Dimensions)
	}
	if cfg.Watch.Debounce != 250*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Watch.Debounce)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if !filepath.IsAbs(cfg.Storage.IndexDir) {
		t.Errorf("index_dir not absolute: %s", cfg.Storage.IndexDir)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  raw_dir: "./data/raw"
  corpus_path: "./data/processed/documents.jsonl"
  index_dir: "./index"
  database_path: "./data/catalog.db"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		cfg.Storage.RawDir:       filepath.Join(dir, "data", "raw"),
		cfg.Storage.CorpusPath:   filepath.Join(dir, "data", "processed", "documents.jsonl"),
		cfg.Storage.IndexDir:     filepath.Join(dir, "index"),
		cfg.Storage.DatabasePath: filepath.Join(dir, "data", "catalog.db"),
	}
	for got, w := range want {
		if got != w {
			t.Errorf("got %s, want %s", got, w)
		}
	}
}

func TestLoad_rejectsInvalidMetric(t *testing.T) {
	path := writeConfig(t, "index:\n  metric: manhattan\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "index.metric") {
		t.Fatalf("expected metric error, got %v", err)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Embedding.Provider != "onnx" || cfg.Embedding.Dimensions != 384 {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Embedding.MaxTokens != 256 || cfg.Embedding.BatchSize != 32 {
		t.Errorf("embedding limits: %+v", cfg.Embedding)
	}
	if cfg.Index.Metric != "l2" || cfg.Index.Backend != "flat" {
		t.Errorf("index defaults: %+v", cfg.Index)
	}
	if cfg.Search.DefaultTopK != 5 || cfg.Search.MaxTopK != 100 {
		t.Errorf("search defaults: %+v", cfg.Search)
	}
	if len(cfg.Corpus.Extensions) != 1 || cfg.Corpus.Extensions[0] != ".txt" {
		t.Errorf("extensions = %v", cfg.Corpus.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestApplyDefaults_onnxModelID(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	if cfg.Embedding.ModelID != "sentence-transformers/all-MiniLM-L6-v2" {
		t.Errorf("model id = %q", cfg.Embedding.ModelID)
	}
	if cfg.Embedding.ModelPath == "" || cfg.Embedding.VocabPath == "" {
		t.Errorf("model files not defaulted: %+v", cfg.Embedding)
	}
}

func TestApplyDefaults_hashingIsOptIn(t *testing.T) {
	cfg := Config{Embedding: EmbeddingConfig{Provider: "hashing"}}
	ApplyDefaults(&cfg)
	if cfg.Embedding.Provider != "hashing" || cfg.Embedding.ModelPath != "" {
		t.Errorf("hashing config = %+v", cfg.Embedding)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.Index.Backend = "hnsw" }},
		{"provider", func(c *Config) { c.Embedding.Provider = "word2vec" }},
		{"dimensions", func(c *Config) { c.Embedding.Dimensions = -1 }},
		{"max tokens", func(c *Config) { c.Embedding.MaxTokens = 2 }},
		{"top k", func(c *Config) { c.Search.DefaultTopK = 500 }},
		{"extension", func(c *Config) { c.Corpus.Extensions = []string{"txt"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			ApplyDefaults(&cfg)
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMetricsConfig_EnabledOrDefault(t *testing.T) {
	var m MetricsConfig
	if !m.EnabledOrDefault() {
		t.Error("unset should default to true")
	}
	f := false
	m.Enabled = &f
	if m.EnabledOrDefault() {
		t.Error("explicit false should be respected")
	}
}
