package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/apperr"
)

// HashingModelID identifies the feature-hashing model. Bump it whenever the
// feature function changes so stale artifacts are rejected at load.
const HashingModelID = "hashing-bow-v1"

const bigramWeight = 0.5

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "in": true,
	"is": true, "it": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "this": true, "to": true, "was": true, "were": true,
	"which": true, "with": true,
}

// HashingEmbedder is a dependency-free lexical embedder: signed feature
// hashing of unigrams and bigrams with log-scaled term frequency, L2
// normalized. It needs no model files; select it explicitly for tests and
// offline use.
type HashingEmbedder struct {
	dimensions int
	maxTokens  int
	logger     *zap.Logger
}

// HashingOption configures a HashingEmbedder.
type HashingOption func(*HashingEmbedder)

// WithHashingLogger sets the logger that reports truncated inputs.
func WithHashingLogger(l *zap.Logger) HashingOption {
	return func(e *HashingEmbedder) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewHashingEmbedder returns a hashing embedder producing vectors of the
// given dimension from at most maxTokens terms per text.
func NewHashingEmbedder(dimensions, maxTokens int, opts ...HashingOption) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	e := &HashingEmbedder{dimensions: dimensions, maxTokens: maxTokens, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Terms lowercases text and splits it into letter/digit runs, dropping stop words.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

// Embed returns the hashed feature vector for text.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := Terms(text)
	if len(terms) == 0 {
		// All stop words or symbols: fall back to the whole lowercased text.
		if t := strings.TrimSpace(strings.ToLower(text)); t != "" {
			terms = []string{t}
		}
	}
	if len(terms) == 0 {
		return nil, apperr.New(apperr.ErrEncoding, apperr.StageEmbed, "text has no encodable content")
	}
	if len(terms) > e.maxTokens {
		e.logger.Debug("embedding input truncated",
			zap.Int("chars", len(text)),
			zap.Int("terms", len(terms)),
			zap.Int("max_tokens", e.maxTokens),
		)
		terms = terms[:e.maxTokens]
	}

	counts := make(map[string]float64, 2*len(terms))
	for i, t := range terms {
		counts[t]++
		if i > 0 {
			counts[terms[i-1]+" "+t] += bigramWeight
		}
	}
	// Accumulate in a fixed order so float rounding is reproducible.
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	acc := make([]float64, e.dimensions)
	for _, k := range keys {
		h := fnv.New64a()
		_, _ = h.Write([]byte(k))
		sum := h.Sum64()
		bucket := sum % uint64(e.dimensions)
		weight := 1 + math.Log(counts[k])
		if counts[k] < 1 {
			weight = counts[k]
		}
		if sum>>63 == 1 {
			weight = -weight
		}
		acc[bucket] += weight
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, e.dimensions)
	if norm == 0 {
		return out, nil
	}
	inv := 1 / math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v * inv)
	}
	return out, nil
}

// EmbedBatch embeds each text in order.
func (e *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *HashingEmbedder) Dimensions() int { return e.dimensions }

// ModelID returns HashingModelID.
func (e *HashingEmbedder) ModelID() string { return HashingModelID }

// Close is a no-op.
func (e *HashingEmbedder) Close() error { return nil }
