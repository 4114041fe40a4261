// Package embedding maps text to fixed-length dense vectors.
//
// Providers are loaded once and are deterministic: the same text and model
// snapshot always produce the same vector, bit for bit. Inputs longer than a
// provider's token limit are truncated to the first max_tokens tokens, which
// is lossy: text past the limit does not influence the vector.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/shirabe/internal/apperr"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	// Embed encodes a single text (query-time).
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch encodes texts in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// ModelID identifies the model snapshot; artifacts record it.
	ModelID() string
	Close() error
}

// checkVector rejects vectors whose length differs from dim.
func checkVector(v []float32, dim int, subject string) error {
	if len(v) != dim {
		return apperr.Wrap(apperr.ErrEncoding, apperr.StageEmbed, subject,
			fmt.Errorf("got %d dimensions, want %d", len(v), dim))
	}
	return nil
}

// embedEach runs embed for every text, stopping at the first error.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
