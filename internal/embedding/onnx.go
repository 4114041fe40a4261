//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// ONNXConfig locates an exported sentence-transformer and its vocabulary.
type ONNXConfig struct {
	ModelID     string
	ModelPath   string
	VocabPath   string
	LibraryPath string
	// OutputName is the token-level output, shape [1, maxTokens, dimensions].
	OutputName string
	Dimensions int
	MaxTokens  int
}

// ONNXEmbedder runs a BERT-style encoder through ONNX Runtime and mean-pools
// the token embeddings under the attention mask. Inference is serialized;
// the session and its tensors are reused across calls.
type ONNXEmbedder struct {
	cfg       ONNXConfig
	tokenizer Tokenizer
	logger    *zap.Logger

	session             *ort.AdvancedSession
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

var ortInit sync.Mutex

// NewONNXEmbedder loads the model. Missing files or a runtime that cannot
// start yield ErrModelUnavailable.
func NewONNXEmbedder(cfg ONNXConfig, logger *zap.Logger) (*ONNXEmbedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, apperr.Wrap(apperr.ErrModelUnavailable, apperr.StageEmbed, cfg.ModelPath, err)
	}
	tokenizer, err := LoadVocab(cfg.VocabPath)
	if err != nil {
		return nil, err
	}
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, apperr.Wrap(apperr.ErrModelUnavailable, apperr.StageEmbed, "onnxruntime", err)
	}

	e := &ONNXEmbedder{cfg: cfg, tokenizer: tokenizer, logger: logger}
	if err := e.open(); err != nil {
		_ = e.Close()
		return nil, apperr.Wrap(apperr.ErrModelUnavailable, apperr.StageEmbed, cfg.ModelPath, err)
	}
	logger.Info("onnx model loaded",
		zap.String("model_id", cfg.ModelID),
		zap.Int("dimensions", cfg.Dimensions),
		zap.Int("max_tokens", cfg.MaxTokens),
	)
	return e, nil
}

func initRuntime(libraryPath string) error {
	ortInit.Lock()
	defer ortInit.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	return ort.InitializeEnvironment()
}

func (e *ONNXEmbedder) open() error {
	seq := int64(e.cfg.MaxTokens)
	shape := ort.NewShape(1, seq)
	var err error
	if e.inputIDsTensor, err = ort.NewEmptyTensor[int64](shape); err != nil {
		return fmt.Errorf("input_ids tensor: %w", err)
	}
	if e.attentionMaskTensor, err = ort.NewEmptyTensor[int64](shape); err != nil {
		return fmt.Errorf("attention_mask tensor: %w", err)
	}
	if e.tokenTypeIDsTensor, err = ort.NewEmptyTensor[int64](shape); err != nil {
		return fmt.Errorf("token_type_ids tensor: %w", err)
	}
	if e.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, seq, int64(e.cfg.Dimensions))); err != nil {
		return fmt.Errorf("output tensor: %w", err)
	}
	e.session, err = ort.NewAdvancedSession(
		e.cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{e.cfg.OutputName},
		[]ort.ArbitraryTensor{e.inputIDsTensor, e.attentionMaskTensor, e.tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{e.outputTensor},
		nil,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Embed returns the mean-pooled, L2-normalized embedding of text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc := e.tokenizer.Encode(text, e.cfg.MaxTokens)
	if enc.Tokens <= 2 {
		return nil, apperr.New(apperr.ErrEncoding, apperr.StageEmbed, "text has no tokens")
	}
	if enc.Truncated {
		e.logger.Debug("embedding input truncated",
			zap.Int("chars", len(text)),
			zap.Int("max_tokens", e.cfg.MaxTokens),
		)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputIDsTensor.GetData(), enc.InputIDs)
	copy(e.attentionMaskTensor.GetData(), enc.AttentionMask)
	copy(e.tokenTypeIDsTensor.GetData(), enc.TokenTypeIDs)
	if err := e.session.Run(); err != nil {
		return nil, apperr.Wrap(apperr.ErrEncoding, apperr.StageEmbed, "inference", err)
	}

	vec := meanPool(e.outputTensor.GetData(), enc.AttentionMask, e.cfg.Dimensions)
	utils.NormalizeL2(vec)
	return vec, nil
}

// meanPool averages token vectors whose mask is set. hidden is row-major
// [len(mask), dim].
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	acc := make([]float64, dim)
	var n float64
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dim : (t+1)*dim]
		for i, v := range row {
			acc[i] += float64(v)
		}
		n++
	}
	out := make([]float32, dim)
	if n == 0 {
		return out
	}
	for i, v := range acc {
		out[i] = float32(v / n)
	}
	return out
}

// EmbedBatch embeds texts one at a time through the shared session.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int { return e.cfg.Dimensions }

// ModelID returns the configured model identifier.
func (e *ONNXEmbedder) ModelID() string { return e.cfg.ModelID }

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputIDsTensor != nil {
		_ = e.inputIDsTensor.Destroy()
		e.inputIDsTensor = nil
	}
	if e.attentionMaskTensor != nil {
		_ = e.attentionMaskTensor.Destroy()
		e.attentionMaskTensor = nil
	}
	if e.tokenTypeIDsTensor != nil {
		_ = e.tokenTypeIDsTensor.Destroy()
		e.tokenTypeIDsTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
