package search

import (
	"time"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/artifact"
	"github.com/hyperjump/shirabe/internal/metadata"
	"github.com/hyperjump/shirabe/internal/vector"
)

// Snapshot is an immutable, mutually consistent index/metadata pair. Once
// handed to an Engine it must not be modified.
type Snapshot struct {
	Index      vector.Index
	Metadata   *metadata.Store
	Generation string
	LoadedAt   time.Time
}

// NewSnapshot pairs idx with meta after checking they describe the same
// build: equal size, metric and dimension.
func NewSnapshot(idx vector.Index, meta *metadata.Store, generation string) (*Snapshot, error) {
	h := meta.Header()
	switch {
	case idx.Size() != meta.Len():
		return nil, apperr.Newf(apperr.ErrArtifactMismatch, apperr.StageArtifact,
			"index has %d vectors, metadata has %d entries", idx.Size(), meta.Len())
	case idx.Metric() != h.Metric:
		return nil, apperr.Newf(apperr.ErrArtifactMismatch, apperr.StageArtifact,
			"index metric %s, metadata metric %s", idx.Metric(), h.Metric)
	case idx.Dimensions() != h.Dimension:
		return nil, apperr.Newf(apperr.ErrArtifactMismatch, apperr.StageArtifact,
			"index has %d dimensions, metadata records %d", idx.Dimensions(), h.Dimension)
	}
	return &Snapshot{Index: idx, Metadata: meta, Generation: generation, LoadedAt: time.Now()}, nil
}

// OpenSnapshot reads the artifact pair of gen and serves the index with the
// given vector backend.
func OpenSnapshot(gen artifact.Generation, backend string) (*Snapshot, error) {
	meta, err := metadata.ReadFile(gen.MetadataPath())
	if err != nil {
		return nil, err
	}
	idx, err := vector.Open(backend, gen.IndexPath())
	if err != nil {
		return nil, err
	}
	snap, err := NewSnapshot(idx, meta, gen.Name)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	return snap, nil
}
