// Package strings formats untrusted response text for error messages.
package strings

import (
	"strings"
)

// DefaultExcerptLen bounds response text quoted in errors.
const DefaultExcerptLen = 200

// minExcerptLen leaves room for one character plus "...".
const minExcerptLen = 4

// Excerpt returns s on a single line, with runs of whitespace collapsed and
// markup tags removed, cut to maxLen runes with a trailing "..." when longer.
// Servers in front of a portal answer failures with HTML pages; Excerpt keeps
// their text readable in a one-line error.
func Excerpt(s string, maxLen int) string {
	if maxLen < minExcerptLen {
		maxLen = minExcerptLen
	}

	s = strings.Join(strings.Fields(stripTags(s)), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
