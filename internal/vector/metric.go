package vector

import (
	"fmt"
	"math"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/pkg/utils"
)

// Metric is the closed set of distance functions an index can use. Each
// variant defines how vectors are transformed at insert and query time and
// how a pair of prepared vectors is scored.
type Metric uint32

const (
	// MetricL2 scores by squared Euclidean distance; lower is closer.
	MetricL2 Metric = iota + 1
	// MetricCosine L2-normalizes vectors and scores by their inner product,
	// the cosine similarity in [-1, 1]; higher is closer.
	MetricCosine
)

// ParseMetric maps "l2" or "cosine" to its Metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "l2":
		return MetricL2, nil
	case "cosine":
		return MetricCosine, nil
	default:
		return 0, apperr.Newf(apperr.ErrInvalidQuery, apperr.StageIndex, "unknown metric %q (want l2 or cosine)", s)
	}
}

// Valid reports whether m is a known variant.
func (m Metric) Valid() bool {
	return m == MetricL2 || m == MetricCosine
}

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "l2"
	case MetricCosine:
		return "cosine"
	default:
		return fmt.Sprintf("metric(%d)", uint32(m))
	}
}

// MarshalText encodes m by name.
func (m Metric) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid metric %d", uint32(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a metric name.
func (m *Metric) UnmarshalText(b []byte) error {
	parsed, err := ParseMetric(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Prepare returns the stored form of v: an unchanged copy for l2, a unit
// vector for cosine.
func (m Metric) Prepare(v []float32) []float32 {
	if m == MetricCosine {
		return utils.Normalized(v)
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// Score compares two prepared vectors of equal length.
func (m Metric) Score(q, v []float32) float64 {
	if m == MetricCosine {
		return math.Max(-1, math.Min(1, utils.Dot(q, v)))
	}
	return utils.SquaredL2(q, v)
}

// Better reports whether score a ranks strictly ahead of score b.
func (m Metric) Better(a, b float64) bool {
	if m == MetricCosine {
		return a > b
	}
	return a < b
}

// ranksBefore is the total order used for results: better score first,
// then lower ordinal.
func (m Metric) ranksBefore(a, b Hit) bool {
	if a.Score != b.Score {
		return m.Better(a.Score, b.Score)
	}
	return a.Ordinal < b.Ordinal
}
