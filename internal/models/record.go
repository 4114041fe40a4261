// Package models defines the records, queries and results exchanged between
// the corpus, the query engine and the service layer.
package models

// Record is one normalized raw unit. Its position in the record store is its
// ordinal and aligns it with the vector index and the metadata store.
type Record struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Text  string   `json:"text"`
	Tags  []string `json:"tags"`
}

// Document is a catalogued record with its provenance.
type Document struct {
	Record
	Ordinal     int    `json:"ordinal"`
	Source      string `json:"source"`
	Fingerprint string `json:"fingerprint"`
}
