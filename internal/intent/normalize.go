package intent

import "strings"

// Normalize lower-cases raw input, trims surrounding whitespace and
// collapses internal whitespace runs to a single space.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}
