// Package corpus turns a directory of raw units into the ordered record store
// that every later stage aligns with.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/extract"
	"github.com/hyperjump/shirabe/internal/fileid"
	"github.com/hyperjump/shirabe/internal/models"
	"go.uber.org/zap"
)

// IDPrefix prefixes every positional record id.
const IDPrefix = "doc_"

// Source records where a record came from.
type Source struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
}

// Result is the outcome of a corpus build. Records and Sources share indexes.
type Result struct {
	Records []models.Record
	Sources []Source
	// Digest fingerprints the ordered set of raw units that produced Records.
	Digest string
	// Skipped lists units whose normalized text was empty.
	Skipped []string
}

// Builder reads raw units in filename order and emits records.
type Builder struct {
	extractor  *extract.Extractor
	extensions map[string]bool
	logger     *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger used for skipped units and build summaries.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithExtensions restricts raw units to the given extensions (leading dot,
// case-insensitive). The default is .txt only.
func WithExtensions(exts ...string) Option {
	return func(b *Builder) {
		b.extensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			b.extensions[strings.ToLower(e)] = true
		}
	}
}

// NewBuilder returns a Builder decoding units with extractor.
func NewBuilder(extractor *extract.Extractor, opts ...Option) *Builder {
	b := &Builder{
		extractor:  extractor,
		extensions: map[string]bool{".txt": true},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RecordID returns the positional id for a 1-based ordinal.
func RecordID(ordinal int) string {
	return IDPrefix + strconv.Itoa(ordinal)
}

// Build reads every eligible unit in rawDir. Any unit that cannot be decoded
// aborts the build; nothing is returned for a partial corpus.
func (b *Builder) Build(ctx context.Context, rawDir string) (*Result, error) {
	entries, err := os.ReadDir(rawDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Wrap(apperr.ErrEmptyCorpus, apperr.StageCorpus, rawDir, err)
		}
		return nil, fmt.Errorf("read raw dir: %w", err)
	}

	res := &Result{}
	var digest []fileid.Entry
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !b.extensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		path := filepath.Join(rawDir, name)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		raw, err := b.extractor.ExtractBytes(content, filepath.Ext(name))
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrMalformedInput, apperr.StageCorpus, name, err)
		}
		text := Normalize(raw)
		if text == "" {
			b.logger.Debug("corpus skipping empty unit", zap.String("file", name))
			res.Skipped = append(res.Skipped, name)
			continue
		}

		fp := fileid.Fingerprint(content)
		ordinal := len(res.Records) + 1
		res.Records = append(res.Records, models.Record{
			ID:    RecordID(ordinal),
			Title: TitleFromFilename(name),
			Text:  text,
			Tags:  []string{},
		})
		res.Sources = append(res.Sources, Source{Name: name, Path: path, Fingerprint: fp})
		digest = append(digest, fileid.Entry{Name: name, Fingerprint: fp})
	}

	if len(res.Records) == 0 {
		return nil, apperr.New(apperr.ErrEmptyCorpus, apperr.StageCorpus, rawDir)
	}
	res.Digest = fileid.Digest(digest)
	b.logger.Info("corpus built",
		zap.String("raw_dir", rawDir),
		zap.Int("records", len(res.Records)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// BuildTo runs Build and replaces the record store at outPath with the result.
func (b *Builder) BuildTo(ctx context.Context, rawDir, outPath string) (*Result, error) {
	res, err := b.Build(ctx, rawDir)
	if err != nil {
		return nil, err
	}
	if err := WriteRecords(outPath, res.Records); err != nil {
		return nil, err
	}
	return res, nil
}
