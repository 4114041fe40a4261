package corpus

import (
	"strings"
	"unicode"
)

// Normalize strips control and format characters, collapses every run of
// whitespace to a single space and trims the result. Record text and query
// text both pass through it so they are embedded under the same rules.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TitleFromFilename derives a record title from a raw unit's file name:
// the extension is dropped and underscores become spaces.
func TitleFromFilename(name string) string {
	stem := strings.TrimSuffix(name, extOf(name))
	return strings.TrimSpace(strings.ReplaceAll(stem, "_", " "))
}

func extOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return ""
	}
	return name[i:]
}
