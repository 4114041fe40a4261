// Package vector provides exact nearest-neighbour indexes over float32
// vectors. Ordinals are 0-based row positions fixed at build time.
package vector

import "context"

// Index is a read-only exact search structure. Implementations are safe for
// concurrent Search calls.
type Index interface {
	// Search returns up to k hits ordered nearest first, ties by lowest ordinal.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Size() int
	Dimensions() int
	Metric() Metric
	// WriteFile persists the index in the flat binary format.
	WriteFile(path string) error
	Close() error
}

// Hit is one search result: the row ordinal and its metric score
// (squared distance for l2, similarity for cosine).
type Hit struct {
	Ordinal int
	Score   float64
}
