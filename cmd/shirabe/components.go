package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/config"
	"github.com/hyperjump/shirabe/internal/corpus"
	"github.com/hyperjump/shirabe/internal/embedding"
	"github.com/hyperjump/shirabe/internal/extract"
	"github.com/hyperjump/shirabe/internal/indexer"
	"github.com/hyperjump/shirabe/internal/metrics"
	"github.com/hyperjump/shirabe/internal/search"
	"github.com/hyperjump/shirabe/internal/storage"
	"github.com/hyperjump/shirabe/internal/vector"
	"github.com/hyperjump/shirabe/pkg/utils"
)

const defaultConfigName = ".shirabe/config.yaml"

// loadConfig loads the config at path. An empty path means the default
// lookup: config.yaml in the current directory (for development), then
// ~/.shirabe/config.yaml, then built-in defaults when neither exists.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, defaultConfigName))
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		cfg, err := config.Load(candidate)
		if err != nil {
			return nil, "", err
		}
		return cfg, candidate, nil
	}
	return config.Default(), "", nil
}

// loadEnv reads .env from the working directory into the process
// environment. Variables already set win. A missing file is not an error.
func loadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// resolveMetric returns the metric named by flag, or the configured one
// when flag is empty.
func resolveMetric(flag string, cfg *config.Config) (vector.Metric, error) {
	if flag == "" {
		flag = cfg.Index.Metric
	}
	return vector.ParseMetric(flag)
}

// setup loads .env and config, builds the logger and resolves the metric,
// exiting on failure.
func setup(configPath string, debug bool, metricFlag string) (*config.Config, *zap.Logger, vector.Metric) {
	if err := loadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	metric, err := resolveMetric(metricFlag, cfg)
	if err != nil {
		exitErr("Invalid metric", err)
	}
	if resolved == "" {
		resolved = "(defaults)"
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.Bool("debug", debugMode),
		zap.String("metric", metric.String()),
	)
	return cfg, logger, metric
}

// Components holds initialized services.
type Components struct {
	Embedder embedding.Embedder
	Catalog  *storage.SQLiteCatalog
	Metrics  *metrics.Metrics
	Engine   *search.Engine
	Indexer  *indexer.Indexer
}

// Close releases the embedder and the catalog.
func (c *Components) Close() {
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	catalog, err := storage.NewSQLiteCatalog(cfg.Storage.DatabasePath)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}

	m := metrics.New()
	cached := embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
	m.RegisterCache(cached.Cache().Stats)

	engine := search.NewEngine(cached,
		search.WithLogger(logger),
		search.WithBackend(cfg.Index.Backend),
		search.WithRecorder(m),
	)

	builder := corpus.NewBuilder(extract.NewExtractor(),
		corpus.WithLogger(logger),
		corpus.WithExtensions(cfg.Corpus.Extensions...),
	)
	idx := indexer.NewIndexer(builder, embedder, cfg.Storage.CorpusPath, cfg.Storage.IndexDir,
		indexer.WithLogger(logger),
		indexer.WithCatalog(catalog),
		indexer.WithBackend(cfg.Index.Backend),
		indexer.WithRecorder(m),
		indexer.WithBatchOptions(
			embedding.WithBatchSize(cfg.Embedding.BatchSize),
			embedding.WithWorkers(cfg.Embedding.Workers),
			embedding.WithBatchLogger(logger),
		),
	)

	logger.Info("components initialized",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model_id", embedder.ModelID()),
		zap.Int("dimensions", embedder.Dimensions()),
		zap.String("backend", cfg.Index.Backend),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()),
	)

	return &Components{
		Embedder: embedder,
		Catalog:  catalog,
		Metrics:  m,
		Engine:   engine,
		Indexer:  idx,
	}, nil
}
