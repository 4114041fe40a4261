package models

import (
	"errors"
	"testing"

	"github.com/hyperjump/shirabe/internal/apperr"
)

func intPtr(v int) *int { return &v }

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *SearchQuery
		wantErr bool
	}{
		{"empty query", &SearchQuery{Query: ""}, true},
		{"whitespace query", &SearchQuery{Query: " \t\n"}, true},
		{"valid query default top_k", &SearchQuery{Query: "antenna"}, false},
		{"explicit zero", &SearchQuery{Query: "x", TopK: intPtr(0)}, true},
		{"negative", &SearchQuery{Query: "x", TopK: intPtr(-3)}, true},
		{"above max", &SearchQuery{Query: "x", TopK: intPtr(101)}, true},
		{"at max", &SearchQuery{Query: "x", TopK: intPtr(100)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(DefaultTopK, 100)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperr.ErrInvalidQuery) {
				t.Errorf("error %v is not ErrInvalidQuery", err)
			}
		})
	}
}

func TestSearchQuery_Limit(t *testing.T) {
	q := &SearchQuery{Query: "x"}
	if got := q.Limit(5); got != 5 {
		t.Errorf("omitted top_k: got %d", got)
	}
	q.TopK = intPtr(2)
	if got := q.Limit(5); got != 2 {
		t.Errorf("explicit top_k: got %d", got)
	}
}

func TestSearchQuery_NoUpperBound(t *testing.T) {
	q := &SearchQuery{Query: "x", TopK: intPtr(100000)}
	if err := q.Validate(DefaultTopK, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
