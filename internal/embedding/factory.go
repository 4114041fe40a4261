package embedding

import (
	"fmt"
	"os"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/config"
	"go.uber.org/zap"
)

// New builds the provider selected by cfg.Provider. The result is not
// cached; wrap it with NewCachedEmbedder for query serving.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "hashing":
		return NewHashingEmbedder(cfg.Dimensions, cfg.MaxTokens, WithHashingLogger(logger)), nil
	case "", "onnx":
		e, err := NewONNXEmbedder(ONNXConfig{
			ModelID:     cfg.ModelID,
			ModelPath:   cfg.ModelPath,
			VocabPath:   cfg.VocabPath,
			LibraryPath: os.Getenv("ONNXRUNTIME_LIB"),
			OutputName:  cfg.OutputName,
			Dimensions:  cfg.Dimensions,
			MaxTokens:   cfg.MaxTokens,
		}, logger)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "openai":
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Token:       os.Getenv(cfg.OpenAI.APIKeyEnv),
			Dimensions:  cfg.Dimensions,
			MaxTokens:   cfg.MaxTokens,
			BatchSize:   cfg.BatchSize,
			MaxAttempts: cfg.OpenAI.MaxAttempts,
			BaseDelay:   cfg.OpenAI.BaseDelay,
		}, logger)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, apperr.Wrap(apperr.ErrModelUnavailable, apperr.StageEmbed, cfg.Provider,
			fmt.Errorf("unknown embedding provider"))
	}
}
