// Package intent bounds the free-text annotation a caller attaches to a
// query.
package intent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxLen is the maximum intent length in characters (runes).
const MaxLen = 140

// Clamp shortens s to MaxLen characters. Intents that already fit are
// returned unchanged. Longer ones are NFC-normalized first, so a decomposed
// accent does not count twice, and then cut on a rune boundary. clamped
// reports whether characters were dropped. Over-long intents are never
// rejected.
func Clamp(s string) (out string, clamped bool) {
	if utf8.RuneCountInString(s) <= MaxLen {
		return s, false
	}

	out = norm.NFC.String(s)
	n := 0
	for i := range out {
		if n == MaxLen {
			return out[:i], true
		}
		n++
	}
	return out, false
}

// Warning returns the caller-visible message for a clamped intent of
// originalLen characters.
func Warning(originalLen int) string {
	return fmt.Sprintf("intent is %d characters; clamped to %d", originalLen, MaxLen)
}

// Normalize clamps s and returns a pointer suitable for the log entry (nil
// when s is blank) plus the warning to surface, if any.
func Normalize(s string) (*string, string) {
	if strings.TrimSpace(s) == "" {
		return nil, ""
	}
	out, clamped := Clamp(s)
	var warning string
	if clamped {
		warning = Warning(utf8.RuneCountInString(s))
	}
	return &out, warning
}
