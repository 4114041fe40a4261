//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"github.com/hyperjump/shirabe/internal/apperr"
)

// FAISSIndex serves a FlatIndex through FAISS IndexFlatL2 (l2) or
// IndexFlatIP over unit vectors (cosine). Scores are recomputed from the
// stored rows so both backends report identical values and tie order.
type FAISSIndex struct {
	flat  *FlatIndex
	index *C.FaissIndex
	mu    sync.RWMutex
}

// NewFAISSIndex copies the prepared rows of flat into a FAISS index.
func NewFAISSIndex(flat *FlatIndex) (*FAISSIndex, error) {
	var index *C.FaissIndex
	var ret C.int
	switch flat.metric {
	case MetricL2:
		var l2 *C.FaissIndexFlatL2
		ret = C.faiss_IndexFlatL2_new_with(&l2, C.idx_t(flat.dim))
		index = (*C.FaissIndex)(unsafe.Pointer(l2))
	case MetricCosine:
		var ip *C.FaissIndexFlatIP
		ret = C.faiss_IndexFlatIP_new_with(&ip, C.idx_t(flat.dim))
		index = (*C.FaissIndex)(unsafe.Pointer(ip))
	default:
		return nil, fmt.Errorf("faiss: invalid metric %d", uint32(flat.metric))
	}
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}

	ret = C.faiss_Index_add(index, C.idx_t(flat.n), (*C.float)(unsafe.Pointer(&flat.data[0])))
	if ret != 0 {
		C.faiss_Index_free(index)
		return nil, fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	return &FAISSIndex{flat: flat, index: index}, nil
}

// tieMargin is the number of extra candidates requested beyond k so that
// rows tied at the k-th score can be re-ordered by ordinal.
const tieMargin = 16

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Search runs the FAISS scan and re-ranks its candidates with the flat
// ordering rules.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.flat.dim {
		return nil, apperr.Newf(apperr.ErrDimensionMismatch, apperr.StageQuery, "query has %d dimensions, index has %d", len(query), f.flat.dim)
	}
	if k < 1 {
		return []Hit{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k > f.flat.n {
		k = f.flat.n
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return nil, fmt.Errorf("FAISS index closed")
	}

	q := f.flat.metric.Prepare(query)
	fetch := min(f.flat.n, k+tieMargin)
	for {
		hits, err := f.candidates(q, fetch)
		if err != nil {
			return nil, err
		}
		// FAISS breaks ties at its cut arbitrarily. Widen the request until
		// the last candidate scores strictly worse than the k-th hit.
		if fetch == f.flat.n || len(hits) <= k || hits[len(hits)-1].Score != hits[k-1].Score {
			if len(hits) > k {
				hits = hits[:k]
			}
			return hits, nil
		}
		fetch = min(f.flat.n, fetch*2)
	}
}

// candidates asks FAISS for n rows and rescores them with the flat metric,
// nearest first with ties by lowest ordinal.
func (f *FAISSIndex) candidates(q []float32, n int) ([]Hit, error) {
	distances := make([]float32, n)
	labels := make([]int64, n)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&q[0])),
		C.idx_t(n),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	hits := make([]Hit, 0, n)
	for _, label := range labels {
		if label < 0 || int(label) >= f.flat.n {
			continue
		}
		ord := int(label)
		hits = append(hits, Hit{Ordinal: ord, Score: f.flat.metric.Score(q, f.flat.row(ord))})
	}
	m := f.flat.metric
	sort.Slice(hits, func(i, j int) bool { return m.ranksBefore(hits[i], hits[j]) })
	return hits, nil
}

func (f *FAISSIndex) Size() int       { return f.flat.n }
func (f *FAISSIndex) Dimensions() int { return f.flat.dim }
func (f *FAISSIndex) Metric() Metric  { return f.flat.metric }

// WriteFile persists the rows in the flat format.
func (f *FAISSIndex) WriteFile(path string) error {
	return f.flat.WriteFile(path)
}

// Close frees the FAISS index.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
