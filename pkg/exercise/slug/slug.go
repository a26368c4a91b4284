// Package slug turns free-form titles into filesystem-safe directory names.
package slug

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback is returned for titles that reduce to nothing.
const Fallback = "untitled"

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Make lowercases s, strips diacritics, collapses every run of characters
// outside [a-z0-9] into a single "-" and trims leading and trailing dashes.
// Make(Make(s)) == Make(s).
func Make(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	out := nonAlnum.ReplaceAllString(strings.ToLower(stripped), "-")
	out = strings.Trim(out, "-")
	if out == "" {
		return Fallback
	}
	return out
}

// Unique returns base, or base-2, base-3, ... whichever is first for which
// taken reports false.
func Unique(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + "-" + strconv.Itoa(i)
		if !taken(candidate) {
			return candidate
		}
	}
}
