package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/models"
)

// WriteRecords replaces the JSON Lines store at path with records, one per
// line. The data goes to a temporary file in the same directory that is
// renamed over path, so readers see either the old store or the new one.
func WriteRecords(path string, records []models.Record) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create record store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".records-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record store: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if r.Tags == nil {
			r.Tags = []string{}
		}
		if err := enc.Encode(&r); err != nil {
			return fmt.Errorf("encode record %s: %w", r.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write record store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync record store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close record store: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace record store: %w", err)
	}
	return nil
}

type rawRecord struct {
	ID    *string  `json:"id"`
	Title *string  `json:"title"`
	Text  *string  `json:"text"`
	Tags  []string `json:"tags"`
}

// ReadRecords loads a record store. Every line must carry id, title and a
// non-empty text, and ids must be unique.
func ReadRecords(path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	defer f.Close()
	return DecodeRecords(f, path)
}

// DecodeRecords parses JSON Lines records from r. name identifies the source
// in errors.
func DecodeRecords(r io.Reader, name string) ([]models.Record, error) {
	br := bufio.NewReader(r)
	var (
		records []models.Record
		seen    = make(map[string]int)
	)
	for line := 1; ; line++ {
		data, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read record store: %w", readErr)
		}
		if data = bytes.TrimSpace(data); len(data) > 0 {
			rec, err := parseRecord(data)
			if err != nil {
				return nil, apperr.Wrap(apperr.ErrMalformedInput, apperr.StageCorpus, fmt.Sprintf("%s line %d", name, line), err)
			}
			if prev, dup := seen[rec.ID]; dup {
				return nil, apperr.Newf(apperr.ErrMalformedInput, apperr.StageCorpus, "%s line %d: id %q repeats line %d", name, line, rec.ID, prev)
			}
			seen[rec.ID] = line
			records = append(records, rec)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
	}
	return records, nil
}

func parseRecord(data []byte) (models.Record, error) {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Record{}, err
	}
	switch {
	case raw.ID == nil || *raw.ID == "":
		return models.Record{}, errors.New("missing id")
	case raw.Title == nil:
		return models.Record{}, errors.New("missing title")
	case raw.Text == nil || *raw.Text == "":
		return models.Record{}, errors.New("missing text")
	}
	tags := raw.Tags
	if tags == nil {
		tags = []string{}
	}
	return models.Record{ID: *raw.ID, Title: *raw.Title, Text: *raw.Text, Tags: tags}, nil
}
