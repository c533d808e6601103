// Package util holds small string helpers shared across services.
package util

import (
	"strings"
	"unicode"
)

// CleanLogValue trims whitespace and strips control characters so
// user-supplied text (queries, prompts) is safe to embed in log fields.
func CleanLogValue(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// MaskSecret hides the tail of a credential-bearing string for display.
// Strings no longer than the visible prefix are fully masked.
func MaskSecret(s string, visiblePrefix int) string {
	if len(s) <= visiblePrefix {
		return "***"
	}
	return s[:visiblePrefix] + "***"
}
