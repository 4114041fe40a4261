package models

// SearchResult is one ranked hit. Score is the squared L2 distance in l2 mode
// (lower is closer) and the cosine similarity in cosine mode (higher is closer).
type SearchResult struct {
	DocID string  `json:"doc_id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// SearchResponse is the body returned by the search endpoint.
type SearchResponse struct {
	Query     string         `json:"query,omitempty"`
	Metric    string         `json:"metric,omitempty"`
	QueryTime int64          `json:"query_time_ms"`
	Results   []SearchResult `json:"results"`
}
