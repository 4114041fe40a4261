// Package extract decodes raw units into text. Plain text must already be
// valid UTF-8; office and PDF formats are unpacked by format-specific readers.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for extensions without a reader.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrInvalidEncoding is returned when plain text is not valid UTF-8.
	ErrInvalidEncoding = errors.New("invalid UTF-8")
)

type readerFunc func(content []byte) (string, error)

// Extractor turns file contents into text by extension.
type Extractor struct {
	readers map[string]readerFunc
}

// NewExtractor returns an Extractor with every built-in reader registered.
func NewExtractor() *Extractor {
	return &Extractor{
		readers: map[string]readerFunc{
			".txt":  extractPlain,
			".md":   extractPlain,
			".rst":  extractPlain,
			".pdf":  extractPDF,
			".docx": extractDOCX,
			".pptx": extractPPTX,
			".odt":  extractODF,
			".odp":  extractODF,
			".ods":  extractODF,
			".xlsx": extractExcel,
			".rtf":  extractRTF,
		},
	}
}

// Supports reports whether ext (with leading dot, any case) has a reader.
func (e *Extractor) Supports(ext string) bool {
	_, ok := e.readers[strings.ToLower(ext)]
	return ok
}

// Extensions returns the registered extensions in sorted order.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.readers))
	for ext := range e.readers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content using the reader for ext.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	read, ok := e.readers[strings.ToLower(ext)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return read(content)
}
