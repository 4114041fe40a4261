package embedding

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/shirabe/internal/apperr"
)

var testVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]", "beam", "##form", "##ing", "antenna", ",", "5", "##g", "cafe",
}

func newTestTokenizer(t *testing.T) *WordPieceTokenizer {
	t.Helper()
	tok, err := NewWordPieceTokenizer(testVocab)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestWordPiece_Encode(t *testing.T) {
	enc := newTestTokenizer(t).Encode("Beamforming, antenna 5G café xyz", 16)
	want := []int64{2, 4, 5, 6, 8, 7, 9, 10, 11, 1, 3, 0, 0, 0, 0, 0}
	for i, id := range want {
		if enc.InputIDs[i] != id {
			t.Fatalf("ids = %v, want %v", enc.InputIDs, want)
		}
	}
	if enc.Tokens != 11 || enc.Truncated {
		t.Errorf("tokens = %d truncated = %v", enc.Tokens, enc.Truncated)
	}
	for i, m := range enc.AttentionMask {
		if (i < 11) != (m == 1) {
			t.Fatalf("mask = %v", enc.AttentionMask)
		}
	}
}

func TestWordPiece_Truncates(t *testing.T) {
	enc := newTestTokenizer(t).Encode("beamforming antenna antenna", 4)
	want := []int64{2, 4, 5, 3}
	for i, id := range want {
		if enc.InputIDs[i] != id {
			t.Fatalf("ids = %v, want %v", enc.InputIDs, want)
		}
	}
	if !enc.Truncated {
		t.Error("expected truncation flag")
	}
}

func TestWordPiece_MissingSpecialToken(t *testing.T) {
	_, err := NewWordPieceTokenizer([]string{"[PAD]", "a"})
	if !errors.Is(err, apperr.ErrModelUnavailable) {
		t.Fatalf("got %v", err)
	}
}

func TestLoadVocab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte(strings.Join(testVocab, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	tok, err := LoadVocab(path)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Encode("antenna", 4).InputIDs[1] != 7 {
		t.Error("vocab ids should follow line numbers")
	}
	if _, err := LoadVocab(filepath.Join(t.TempDir(), "missing.txt")); !errors.Is(err, apperr.ErrModelUnavailable) {
		t.Errorf("missing vocab: got %v", err)
	}
}
