// Package textutil normalizes names coming back from remote catalogs,
// where case and spacing vary between archives.
package textutil

import (
	"strings"
	"unicode"
)

// Fold lowercases s and strips all whitespace, the canonical form for
// comparing species and target names.
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// ContainsFold reports whether s contains substr once both are folded.
func ContainsFold(s, substr string) bool {
	return strings.Contains(Fold(s), Fold(substr))
}
