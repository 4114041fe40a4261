//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"

	"github.com/hyperjump/shirabe/internal/apperr"
	"go.uber.org/zap"
)

// ONNXConfig mirrors the cgo build so callers compile either way.
type ONNXConfig struct {
	ModelID     string
	ModelPath   string
	VocabPath   string
	LibraryPath string
	OutputName  string
	Dimensions  int
	MaxTokens   int
}

// ONNXEmbedder is unavailable without cgo.
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails with ErrModelUnavailable when built without cgo.
func NewONNXEmbedder(cfg ONNXConfig, _ *zap.Logger) (*ONNXEmbedder, error) {
	return nil, apperr.Wrap(apperr.ErrModelUnavailable, apperr.StageEmbed, cfg.ModelPath,
		errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime"))
}

func (e *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, apperr.New(apperr.ErrModelUnavailable, apperr.StageEmbed, "onnx")
}

func (e *ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, apperr.New(apperr.ErrModelUnavailable, apperr.StageEmbed, "onnx")
}

func (e *ONNXEmbedder) Dimensions() int { return 0 }
func (e *ONNXEmbedder) ModelID() string { return "" }
func (e *ONNXEmbedder) Close() error    { return nil }
