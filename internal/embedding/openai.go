package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/pkg/utils"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// OpenAIConfig points at an OpenAI-compatible /embeddings endpoint, such as
// a local text-embeddings server hosting the same sentence-transformer.
type OpenAIConfig struct {
	BaseURL     string
	Model       string
	Token       string
	Dimensions  int
	MaxTokens   int
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
}

// OpenAIEmbedder calls a remote embeddings API through langchaingo. Remote
// servers are expected to be deterministic for a pinned model; every
// response is checked against the configured dimension.
type OpenAIEmbedder struct {
	cfg      OpenAIConfig
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// NewOpenAIEmbedder creates the client. No request is made until the first
// Embed call.
func NewOpenAIEmbedder(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIEmbedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		return nil, apperr.Wrap(apperr.ErrModelUnavailable, apperr.StageEmbed, "openai", errors.New("model is required"))
	}
	token := cfg.Token
	if token == "" {
		// Local OpenAI-compatible servers usually accept any token.
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token), openai.WithEmbeddingModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrModelUnavailable, apperr.StageEmbed, cfg.BaseURL, err)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	emb, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(batch),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrModelUnavailable, apperr.StageEmbed, cfg.BaseURL, err)
	}
	return &OpenAIEmbedder{cfg: cfg, embedder: emb, logger: logger}, nil
}

// truncateWords keeps the first limit whitespace-separated words.
func truncateWords(text string, limit int) (string, bool) {
	if limit <= 0 {
		return text, false
	}
	words := strings.Fields(text)
	if len(words) <= limit {
		return text, false
	}
	return strings.Join(words[:limit], " "), true
}

func (e *OpenAIEmbedder) prepare(texts []string) ([]string, error) {
	out := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, apperr.Newf(apperr.ErrEncoding, apperr.StageEmbed, "text %d is empty", i)
		}
		cut, truncated := truncateWords(t, e.cfg.MaxTokens)
		if truncated {
			e.logger.Debug("embedding input truncated", zap.Int("index", i), zap.Int("max_words", e.cfg.MaxTokens))
		}
		out[i] = cut
	}
	return out, nil
}

// Embed encodes a single query text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch encodes texts in order, retrying transient failures.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	inputs, err := e.prepare(texts)
	if err != nil {
		return nil, err
	}
	var vecs [][]float32
	err = retryWithBackoff(ctx, e.logger, e.cfg.MaxAttempts, e.cfg.BaseDelay, func() error {
		var callErr error
		vecs, callErr = e.embedder.EmbedDocuments(ctx, inputs)
		return callErr
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrEncoding, apperr.StageEmbed, e.cfg.Model, err)
	}
	if len(vecs) != len(texts) {
		return nil, apperr.Wrap(apperr.ErrEncoding, apperr.StageEmbed, e.cfg.Model,
			fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts)))
	}
	for i, v := range vecs {
		if err := checkVector(v, e.cfg.Dimensions, fmt.Sprintf("text %d", i)); err != nil {
			return nil, err
		}
		utils.NormalizeL2(v)
	}
	return vecs, nil
}

// Dimensions returns the configured dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.cfg.Dimensions }

// ModelID returns the remote model name.
func (e *OpenAIEmbedder) ModelID() string { return e.cfg.Model }

// Close is a no-op; the HTTP client holds no resources that need release.
func (e *OpenAIEmbedder) Close() error { return nil }
