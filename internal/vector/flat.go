package vector

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/hyperjump/shirabe/internal/apperr"
)

// cancelCheckEvery bounds how many rows are scanned between context checks.
const cancelCheckEvery = 4096

// FlatIndex stores prepared vectors contiguously and answers queries by a
// full linear scan. It is immutable after Build.
type FlatIndex struct {
	metric Metric
	dim    int
	n      int
	data   []float32
}

// Build prepares vectors for metric and returns the index. Every vector
// must have the same non-zero length and only finite components.
func Build(vectors [][]float32, metric Metric) (*FlatIndex, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("build index: invalid metric %d", uint32(metric))
	}
	if len(vectors) == 0 {
		return nil, apperr.New(apperr.ErrEmptyIndex, apperr.StageIndex, "no vectors")
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, apperr.New(apperr.ErrDimensionMismatch, apperr.StageIndex, "vector 0 is empty")
	}
	data := make([]float32, 0, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, apperr.Newf(apperr.ErrDimensionMismatch, apperr.StageIndex, "vector %d has %d dimensions, want %d", i, len(v), dim)
		}
		for _, x := range v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return nil, apperr.Newf(apperr.ErrEncoding, apperr.StageIndex, "vector %d has a non-finite component", i)
			}
		}
		data = append(data, metric.Prepare(v)...)
	}
	return &FlatIndex{metric: metric, dim: dim, n: len(vectors), data: data}, nil
}

func (f *FlatIndex) row(i int) []float32 {
	return f.data[i*f.dim : (i+1)*f.dim]
}

// Search scans every row and returns the k best hits. k larger than the
// index returns every row; k below 1 returns none.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dim {
		return nil, apperr.Newf(apperr.ErrDimensionMismatch, apperr.StageQuery, "query has %d dimensions, index has %d", len(query), f.dim)
	}
	if k < 1 {
		return []Hit{}, nil
	}
	if k > f.n {
		k = f.n
	}
	q := f.metric.Prepare(query)

	h := &worstFirst{metric: f.metric, hits: make([]Hit, 0, k)}
	for i := 0; i < f.n; i++ {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hit := Hit{Ordinal: i, Score: f.metric.Score(q, f.row(i))}
		if h.Len() < k {
			heap.Push(h, hit)
			continue
		}
		if f.metric.ranksBefore(hit, h.hits[0]) {
			h.hits[0] = hit
			heap.Fix(h, 0)
		}
	}

	out := h.hits
	sort.Slice(out, func(i, j int) bool { return f.metric.ranksBefore(out[i], out[j]) })
	return out, nil
}

// Size returns the number of indexed vectors.
func (f *FlatIndex) Size() int { return f.n }

// Dimensions returns the vector length.
func (f *FlatIndex) Dimensions() int { return f.dim }

// Metric returns the metric the index was built with.
func (f *FlatIndex) Metric() Metric { return f.metric }

// Close is a no-op.
func (f *FlatIndex) Close() error { return nil }

// worstFirst is a heap whose root is the lowest-ranked kept hit.
type worstFirst struct {
	metric Metric
	hits   []Hit
}

func (h *worstFirst) Len() int { return len(h.hits) }
func (h *worstFirst) Less(i, j int) bool {
	return h.metric.ranksBefore(h.hits[j], h.hits[i])
}
func (h *worstFirst) Swap(i, j int) { h.hits[i], h.hits[j] = h.hits[j], h.hits[i] }
func (h *worstFirst) Push(x any)    { h.hits = append(h.hits, x.(Hit)) }
func (h *worstFirst) Pop() any {
	last := h.hits[len(h.hits)-1]
	h.hits = h.hits[:len(h.hits)-1]
	return last
}
