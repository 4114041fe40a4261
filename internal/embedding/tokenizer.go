package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/hyperjump/shirabe/internal/apperr"
	"golang.org/x/text/unicode/norm"
)

// Encoding is a BERT-style model input padded to a fixed length.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	// Tokens is the number of unpadded positions including [CLS] and [SEP].
	Tokens int
	// Truncated reports that word pieces past the limit were dropped.
	Truncated bool
}

// Tokenizer encodes text for a transformer encoder.
type Tokenizer interface {
	Encode(text string, maxTokens int) Encoding
}

const maxCharsPerWord = 100

// WordPieceTokenizer implements uncased BERT tokenization: basic cleanup,
// lowercasing, accent stripping and punctuation splitting, followed by
// greedy longest-match-first word piece lookup.
type WordPieceTokenizer struct {
	vocab              map[string]int64
	cls, sep, pad, unk int64
}

// LoadVocab reads a vocab.txt file with one token per line; the line index
// is the token id.
func LoadVocab(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrModelUnavailable, apperr.StageEmbed, path, err)
	}
	defer f.Close()

	var tokens []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		tokens = append(tokens, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, apperr.Wrap(apperr.ErrModelUnavailable, apperr.StageEmbed, path, err)
	}
	return NewWordPieceTokenizer(tokens)
}

// NewWordPieceTokenizer builds a tokenizer from an ordered vocabulary.
func NewWordPieceTokenizer(tokens []string) (*WordPieceTokenizer, error) {
	vocab := make(map[string]int64, len(tokens))
	for i, t := range tokens {
		if _, dup := vocab[t]; !dup {
			vocab[t] = int64(i)
		}
	}
	t := &WordPieceTokenizer{vocab: vocab}
	for name, dst := range map[string]*int64{"[CLS]": &t.cls, "[SEP]": &t.sep, "[PAD]": &t.pad, "[UNK]": &t.unk} {
		id, ok := vocab[name]
		if !ok {
			return nil, apperr.Wrap(apperr.ErrModelUnavailable, apperr.StageEmbed, "vocab",
				fmt.Errorf("missing special token %s", name))
		}
		*dst = id
	}
	return t, nil
}

// Encode tokenizes text into exactly maxTokens positions. Word pieces that
// do not fit between [CLS] and [SEP] are dropped.
func (t *WordPieceTokenizer) Encode(text string, maxTokens int) Encoding {
	enc := Encoding{
		InputIDs:      make([]int64, maxTokens),
		AttentionMask: make([]int64, maxTokens),
		TokenTypeIDs:  make([]int64, maxTokens),
	}
	for i := range enc.InputIDs {
		enc.InputIDs[i] = t.pad
	}
	budget := maxTokens - 2
	ids := make([]int64, 0, budget)
	for _, word := range basicTokenize(text) {
		pieces := t.wordPieces(word)
		if len(ids)+len(pieces) > budget {
			ids = append(ids, pieces[:budget-len(ids)]...)
			enc.Truncated = true
			break
		}
		ids = append(ids, pieces...)
	}

	enc.InputIDs[0] = t.cls
	copy(enc.InputIDs[1:], ids)
	enc.InputIDs[len(ids)+1] = t.sep
	enc.Tokens = len(ids) + 2
	for i := 0; i < enc.Tokens; i++ {
		enc.AttentionMask[i] = 1
	}
	return enc
}

func (t *WordPieceTokenizer) wordPieces(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxCharsPerWord {
		return []int64{t.unk}
	}
	var pieces []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		var id int64 = -1
		for ; end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if v, ok := t.vocab[sub]; ok {
				id = v
				break
			}
		}
		if id < 0 {
			return []int64{t.unk}
		}
		pieces = append(pieces, id)
		start = end
	}
	return pieces
}

// basicTokenize lowercases, strips accents and splits on whitespace and
// punctuation. CJK ideographs become single-character words.
func basicTokenize(text string) []string {
	text = norm.NFD.String(strings.ToLower(text))
	var (
		words []string
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Mn, r), r == 0, r == unicode.ReplacementChar:
		case unicode.IsSpace(r):
			flush()
		case unicode.IsControl(r):
		case isPunct(r), unicode.Is(unicode.Han, r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
