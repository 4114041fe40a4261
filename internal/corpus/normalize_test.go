package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "  beam \t\n forming  ", "beam forming"},
		{"strips controls", "laser\x00 \x07diode", "laser diode"},
		{"strips format chars", "zero\u200bwidth\ufeff", "zerowidth"},
		{"keeps unicode letters", "Überschall  strömung", "Überschall strömung"},
		{"only whitespace", " \r\n\t ", ""},
		{"non-breaking space collapses", "a\u00a0 b", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	in := "\tStress   analysis\x01 of  welded joints \n"
	once := Normalize(in)
	assert.Equal(t, once, Normalize(once))
}

func TestTitleFromFilename(t *testing.T) {
	assert.Equal(t, "wireless beamforming", TitleFromFilename("wireless_beamforming.txt"))
	assert.Equal(t, "v1.2 notes", TitleFromFilename("v1.2_notes.md"))
	assert.Equal(t, "README", TitleFromFilename("README"))
}
