package schema

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Normalize converts a raw header into a SQL-safe identifier: the text is
// lower-cased and every rune outside [a-z0-9] becomes '_'.
//
// The result is not guaranteed to be unique; Build deduplicates.
func Normalize(header string) string {
	// A Caser is stateful and must not be shared between goroutines.
	lower := cases.Lower(language.Und).String(header)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

// truncateName shortens s to max bytes. Normalized names are ASCII so a byte
// cut is safe.
func truncateName(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
