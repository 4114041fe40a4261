package vector

import "fmt"

// Backend selects the search implementation behind an Index. Both backends
// share the flat file format.
type Backend string

const (
	// BackendFlat is the pure-Go linear scan.
	BackendFlat Backend = "flat"
	// BackendFAISS delegates the scan to FAISS IndexFlat. Requires building
	// with -tags=faiss and the faiss_c library.
	BackendFAISS Backend = "faiss"
)

// New builds an index over vectors using the named backend ("" means flat).
func New(backend string, vectors [][]float32, metric Metric) (Index, error) {
	flat, err := Build(vectors, metric)
	if err != nil {
		return nil, err
	}
	return wrap(backend, flat)
}

// Open reads an index file and serves it with the named backend.
func Open(backend string, path string) (Index, error) {
	flat, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return wrap(backend, flat)
}

func wrap(backend string, flat *FlatIndex) (Index, error) {
	switch Backend(backend) {
	case BackendFlat, "":
		return flat, nil
	case BackendFAISS:
		idx, err := NewFAISSIndex(flat)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s (supported: flat, faiss)", backend)
	}
}

// IsFAISSAvailable reports whether FAISS support is compiled in.
func IsFAISSAvailable() bool {
	flat := &FlatIndex{metric: MetricL2, dim: 1, n: 1, data: []float32{0}}
	idx, err := NewFAISSIndex(flat)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
