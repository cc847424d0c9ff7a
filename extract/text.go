// Package extract holds the pure field extractors that turn visible card
// text into typed listing fields. A miss is reported with ok=false and is
// never an error.
package extract

import (
	"strings"
	"unicode"
)

// NormalizeText strips leading/trailing whitespace and collapses internal
// whitespace (including newlines) to single spaces.
func NormalizeText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// NormalizeLines collapses whitespace inside every line and drops blank lines,
// keeping the line structure the location extractor anchors on.
func NormalizeLines(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = NormalizeText(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// FirstLine returns the first non-blank line of s, normalised.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = NormalizeText(line); line != "" {
			return line
		}
	}
	return ""
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
