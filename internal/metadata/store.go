// Package metadata maps index ordinals to document identity and records the
// provenance of an index build.
package metadata

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/vector"
)

// FormatVersion is the metadata file version written by this package.
const FormatVersion = 1

// Entry identifies the document stored at an ordinal.
type Entry struct {
	Ordinal int    `json:"ordinal"`
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
}

// Header describes how the paired index was built.
type Header struct {
	ModelID      string
	Dimension    int
	Metric       vector.Metric
	CorpusDigest string
	BuiltAt      time.Time
}

// Store is an immutable, ordinal-aligned list of entries.
type Store struct {
	header  Header
	entries []Entry
}

// Build creates a store whose entry i describes records[i].
func Build(records []models.Record, header Header) *Store {
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{Ordinal: i, DocID: r.ID, Title: r.Title}
	}
	return &Store{header: header, entries: entries}
}

// Lookup returns the entry at ordinal.
func (s *Store) Lookup(ordinal int) (Entry, error) {
	if ordinal < 0 || ordinal >= len(s.entries) {
		return Entry{}, apperr.New(apperr.ErrOrdinalNotFound, apperr.StageMetadata, "ordinal "+strconv.Itoa(ordinal))
	}
	return s.entries[ordinal], nil
}

// Len returns the number of entries.
func (s *Store) Len() int { return len(s.entries) }

// Header returns the build header.
func (s *Store) Header() Header { return s.header }

type fileEntry struct {
	Ordinal *int    `json:"ordinal"`
	DocID   *string `json:"doc_id"`
	Title   *string `json:"title"`
}

type file struct {
	FormatVersion *int          `json:"format_version"`
	ModelID       *string       `json:"model_id"`
	Dimension     *int          `json:"dimension"`
	Metric        vector.Metric `json:"metric"`
	Count         *int          `json:"count"`
	CorpusDigest  string        `json:"corpus_digest"`
	BuiltAt       time.Time     `json:"built_at"`
	Entries       []fileEntry   `json:"entries"`
}

// WriteFile writes the store as JSON.
func (s *Store) WriteFile(path string) error {
	version, count := FormatVersion, len(s.entries)
	out := file{
		FormatVersion: &version,
		ModelID:       &s.header.ModelID,
		Dimension:     &s.header.Dimension,
		Metric:        s.header.Metric,
		Count:         &count,
		CorpusDigest:  s.header.CorpusDigest,
		BuiltAt:       s.header.BuiltAt.UTC(),
		Entries:       make([]fileEntry, len(s.entries)),
	}
	for i := range s.entries {
		e := &s.entries[i]
		out.Entries[i] = fileEntry{Ordinal: &e.Ordinal, DocID: &e.DocID, Title: &e.Title}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync metadata: %w", err)
	}
	return f.Close()
}

// ReadFile loads and validates a metadata file. A missing file yields
// ErrNoArtifact; anything malformed yields ErrCorruptArtifact naming the
// offending entry.
func ReadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Wrap(apperr.ErrNoArtifact, apperr.StageMetadata, path, err)
		}
		return nil, apperr.Wrap(apperr.ErrCorruptArtifact, apperr.StageMetadata, path, err)
	}
	var in file
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, apperr.Wrap(apperr.ErrCorruptArtifact, apperr.StageMetadata, path, err)
	}

	corrupt := func(format string, args ...any) error {
		return apperr.Newf(apperr.ErrCorruptArtifact, apperr.StageMetadata, path+": "+format, args...)
	}
	switch {
	case in.FormatVersion == nil:
		return nil, corrupt("missing format_version")
	case *in.FormatVersion != FormatVersion:
		return nil, corrupt("unsupported format_version %d", *in.FormatVersion)
	case in.ModelID == nil:
		return nil, corrupt("missing model_id")
	case in.Dimension == nil || *in.Dimension <= 0:
		return nil, corrupt("missing or invalid dimension")
	case !in.Metric.Valid():
		return nil, corrupt("missing metric")
	case in.Count == nil:
		return nil, corrupt("missing count")
	case *in.Count != len(in.Entries):
		return nil, corrupt("count %d does not match %d entries", *in.Count, len(in.Entries))
	}

	entries := make([]Entry, len(in.Entries))
	for i, e := range in.Entries {
		switch {
		case e.Ordinal == nil:
			return nil, corrupt("entry %d: missing ordinal", i)
		case e.DocID == nil || *e.DocID == "":
			return nil, corrupt("entry %d: missing doc_id", i)
		case e.Title == nil:
			return nil, corrupt("entry %d: missing title", i)
		case *e.Ordinal != i:
			return nil, corrupt("entry %d: ordinal %d out of position", i, *e.Ordinal)
		}
		entries[i] = Entry{Ordinal: i, DocID: *e.DocID, Title: *e.Title}
	}

	return &Store{
		header: Header{
			ModelID:      *in.ModelID,
			Dimension:    *in.Dimension,
			Metric:       in.Metric,
			CorpusDigest: in.CorpusDigest,
			BuiltAt:      in.BuiltAt,
		},
		entries: entries,
	}, nil
}
