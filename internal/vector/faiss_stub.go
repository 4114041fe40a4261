//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"errors"
)

var errFAISSUnavailable = errors.New("FAISS not available: build with -tags=faiss and install FAISS library")

// FAISSIndex is a stub used when the faiss build tag is not set.
type FAISSIndex struct{}

// NewFAISSIndex returns an error because FAISS is not available.
func NewFAISSIndex(flat *FlatIndex) (*FAISSIndex, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Size() int                   { return 0 }
func (f *FAISSIndex) Dimensions() int             { return 0 }
func (f *FAISSIndex) Metric() Metric              { return 0 }
func (f *FAISSIndex) WriteFile(path string) error { return errFAISSUnavailable }
func (f *FAISSIndex) Close() error                { return nil }
