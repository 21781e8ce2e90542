package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// dispatch and comparisons: surrounding whitespace trimmed and the
// address lower-cased.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
