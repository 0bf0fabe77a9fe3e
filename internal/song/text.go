package song

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

var zeroWidth = strings.NewReplacer(
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\ufeff", "",
)

// Clean NFC-normalizes s, drops zero-width characters and trims whitespace.
// Players and window titles frequently mix decomposed accents and invisible
// joiners into otherwise identical strings.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = zeroWidth.Replace(s)
	s = norm.NFC.String(s)
	return strings.TrimSpace(s)
}

// Truncate shortens s to at most max runes, ending with an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max == 1 {
		return string(r[:1])
	}
	return strings.TrimSpace(string(r[:max-1])) + "…"
}
