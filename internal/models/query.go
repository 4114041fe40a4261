package models

import (
	"strings"

	"github.com/hyperjump/shirabe/internal/apperr"
)

// DefaultTopK is used when a request omits top_k.
const DefaultTopK = 5

// SearchQuery is the body of a search request. TopK is a pointer so an
// omitted value can be told apart from an explicit zero.
type SearchQuery struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

// Limit returns the requested top_k, or def when it was omitted.
func (q *SearchQuery) Limit(def int) int {
	if q.TopK == nil {
		return def
	}
	return *q.TopK
}

// Validate rejects blank queries and top_k outside [1, maxTopK].
// A non-positive maxTopK disables the upper bound.
func (q *SearchQuery) Validate(def, maxTopK int) error {
	if strings.TrimSpace(q.Query) == "" {
		return apperr.New(apperr.ErrInvalidQuery, apperr.StageQuery, "query must not be empty")
	}
	k := q.Limit(def)
	if k < 1 {
		return apperr.Newf(apperr.ErrInvalidQuery, apperr.StageQuery, "top_k must be >= 1, got %d", k)
	}
	if maxTopK > 0 && k > maxTopK {
		return apperr.Newf(apperr.ErrInvalidQuery, apperr.StageQuery, "top_k must be <= %d, got %d", maxTopK, k)
	}
	return nil
}
