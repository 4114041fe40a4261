// Package utils provides shared helpers for logging, vector math and text.
package utils

// Truncate returns s cut to at most maxLen runes, with "..." appended when cut.
// A non-positive maxLen returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
