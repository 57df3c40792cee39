// Package strutil holds the string helpers shared by the engine's
// logging and transcript rendering.
package strutil

import "unicode/utf8"

// TruncateUTF8 cuts s to at most maxBytes bytes without splitting a
// multi-byte rune; the result is always valid UTF-8 when s is.
func TruncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
