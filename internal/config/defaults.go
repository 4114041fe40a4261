package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.RawDir == "" {
		cfg.Storage.RawDir = ".shirabe/data/raw"
	}
	if cfg.Storage.CorpusPath == "" {
		cfg.Storage.CorpusPath = ".shirabe/data/processed/documents.jsonl"
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = ".shirabe/index"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".shirabe/data/catalog.db"
	}
	if cfg.Corpus.Extensions == nil {
		cfg.Corpus.Extensions = []string{".txt"}
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Provider == "onnx" {
		if cfg.Embedding.ModelPath == "" {
			cfg.Embedding.ModelPath = ".shirabe/models/all-MiniLM-L6-v2/model.onnx"
		}
		if cfg.Embedding.VocabPath == "" {
			cfg.Embedding.VocabPath = ".shirabe/models/all-MiniLM-L6-v2/vocab.txt"
		}
	}
	if cfg.Embedding.ModelID == "" {
		switch cfg.Embedding.Provider {
		case "onnx":
			cfg.Embedding.ModelID = "sentence-transformers/all-MiniLM-L6-v2"
		case "openai":
			cfg.Embedding.ModelID = cfg.Embedding.OpenAI.Model
		}
	}
	if cfg.Embedding.OutputName == "" {
		cfg.Embedding.OutputName = "last_hidden_state"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = 1
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Embedding.OpenAI.APIKeyEnv == "" {
		cfg.Embedding.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.OpenAI.MaxAttempts == 0 {
		cfg.Embedding.OpenAI.MaxAttempts = 3
	}
	if cfg.Embedding.OpenAI.BaseDelay == 0 {
		cfg.Embedding.OpenAI.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = "l2"
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "flat"
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
}
