package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed", "documents.jsonl")
	in := []models.Record{
		{ID: "doc_1", Title: "optics", Text: "Lens <design> & coatings", Tags: []string{"a", "b"}},
		{ID: "doc_2", Title: "wireless", Text: "Beamforming"},
	}
	require.NoError(t, WriteRecords(path, in))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"id":"doc_2","title":"wireless","text":"Beamforming","tags":[]}`, lines[1])
	assert.Contains(t, lines[0], "<design> & coatings")

	out, err := ReadRecords(path)
	require.NoError(t, err)
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, []string{}, out[1].Tags)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteRecordsOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.jsonl")
	require.NoError(t, WriteRecords(path, []models.Record{{ID: "doc_1", Title: "a", Text: "x"}, {ID: "doc_2", Title: "b", Text: "y"}}))
	require.NoError(t, WriteRecords(path, []models.Record{{ID: "doc_1", Title: "c", Text: "z"}}))

	out, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].Title)
}

func TestDecodeRecordsValidation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bad json", "{not json}\n", "line 1"},
		{"missing id", `{"title":"t","text":"x"}` + "\n", "missing id"},
		{"missing title", `{"id":"doc_1","text":"x"}` + "\n", "missing title"},
		{"empty text", `{"id":"doc_1","title":"t","text":""}` + "\n", "missing text"},
		{"duplicate id", `{"id":"doc_1","title":"t","text":"x"}` + "\n" + `{"id":"doc_1","title":"u","text":"y"}`, "repeats line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecords(strings.NewReader(tt.input), "test.jsonl")
			require.ErrorIs(t, err, apperr.ErrMalformedInput)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodeRecordsNoTrailingNewline(t *testing.T) {
	out, err := DecodeRecords(strings.NewReader(`{"id":"doc_1","title":"t","text":"x","tags":null}`), "s")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{}, out[0].Tags)
}
