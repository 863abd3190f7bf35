package textutil

import (
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// Fold returns s case folded for caseless comparison.
func Fold(s string) string {
	return folder.String(s)
}

// SortKey normalizes a subject for ordering: reply and forward prefixes
// are stripped and the rest is case folded.
func SortKey(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		trimmed := false
		for _, prefix := range []string{"re:", "fwd:", "fw:", "aw:", "sv:"} {
			if strings.HasPrefix(lower, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				trimmed = true
				break
			}
		}
		if !trimmed {
			break
		}
	}
	return Fold(s)
}

// Snippet collapses whitespace in s and truncates it to maxRunes runes.
func Snippet(s string, maxRunes int) string {
	s = strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	return TruncateRunes(s, maxRunes)
}

// TruncateRunes truncates a string to maxRunes runes (not bytes), adding "..." if truncated.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateWidth truncates s to fit within maxWidth terminal cells, so
// full-width characters count as two. Line breaks and tabs become spaces.
func TruncateWidth(s string, maxWidth int) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", "", "\t", " ").Replace(s)
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}
